// Package state holds the small key-value stores that remember each main
// event's last known time range and its soft-delete marker between runs.
package state

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Store is a persisted string-to-string property store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	// DeleteAll wipes every property.
	DeleteAll() error
	Close() error
}

const (
	stampPrefix   = "startEnd_"
	deletedPrefix = "deleted_"

	// DeletedValue marks an event id as ignored.
	DeletedValue = "true"
)

// StampKey is the key under which the last known start/end of an event is kept.
func StampKey(eventID string) string {
	return stampPrefix + eventID
}

// DeletedKey is the key of the soft-delete marker for an event.
func DeletedKey(eventID string) string {
	return deletedPrefix + eventID
}

// FormatStamp encodes a time range as "<startMillis>|<endMillis>".
func FormatStamp(start, end time.Time) string {
	return strconv.FormatInt(start.UnixMilli(), 10) + "|" + strconv.FormatInt(end.UnixMilli(), 10)
}

// ParseStamp decodes a value written by FormatStamp.
func ParseStamp(s string) (start, end time.Time, err error) {
	startStr, endStr, ok := strings.Cut(s, "|")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed stamp %q", s)
	}
	startMs, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed stamp start %q: %w", s, err)
	}
	endMs, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed stamp end %q: %w", s, err)
	}
	return time.UnixMilli(startMs), time.UnixMilli(endMs), nil
}

// IsIgnored reports whether the soft-delete marker is set for eventID.
func IsIgnored(s Store, eventID string) (bool, error) {
	v, ok, err := s.Get(DeletedKey(eventID))
	if err != nil {
		return false, err
	}
	return ok && v == DeletedValue, nil
}

// Open returns a SharedStore for backend ("bolt" or "file") at path, so the
// same state can be used by a running daemon and the maintenance commands.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "bolt", "", "file":
		return OpenShared(backend, path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
