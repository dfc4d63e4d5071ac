package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// Common log attribute keys.
const (
	KeyOperation = "operation"
	KeyEventID   = "event_id"
	KeyTitle     = "title"
	KeyKind      = "kind"
	KeyCreator   = "creator"
	KeyError     = "error"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

func EventID(id string) slog.Attr {
	return slog.String(KeyEventID, id)
}

func Title(title string) slog.Attr {
	return slog.String(KeyTitle, title)
}

func Kind(kind string) slog.Attr {
	return slog.String(KeyKind, kind)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// Creator logs the creator's domain and a short hash instead of the address.
func Creator(email string) slog.Attr {
	return slog.String(KeyCreator, AnonymizeEmail(email))
}

// AnonymizeEmail returns "<hash>@<domain>" so log lines can be correlated
// without carrying the full address.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		domain = ""
	}
	hash := sha256.Sum256([]byte(local))
	return hex.EncodeToString(hash[:4]) + "@" + domain
}
