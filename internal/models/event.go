package models

import (
	"strings"
	"time"
)

// Event represents a timed calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID          string    // Identifier assigned by the calendar store
	Title       string    // Summary or title of the event
	Description string    // Detailed description of the event
	StartTime   time.Time // Start time of the event
	EndTime     time.Time // End time of the event
	Creator     string    // Creator's email
	ColorID     ColorID   // Provider color id, empty when the calendar default applies
}

// Duration returns the length of the event.
func (e Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// NewEvent holds the fields needed to create an event in a calendar store.
type NewEvent struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	ColorID     ColorID
}

// Title prefixes that mark buffer events.
const (
	PrePrefix  = "Pre-Meeting: "
	PostPrefix = "Post-Meeting: "
)

// Kind tags an event as a main event or one of the two buffer kinds.
type Kind int

const (
	KindMain Kind = iota
	KindPre
	KindPost
)

func (k Kind) String() string {
	switch k {
	case KindPre:
		return "pre"
	case KindPost:
		return "post"
	default:
		return "main"
	}
}

// Prefix returns the title prefix of a buffer kind, or "" for KindMain.
func (k Kind) Prefix() string {
	switch k {
	case KindPre:
		return PrePrefix
	case KindPost:
		return PostPrefix
	default:
		return ""
	}
}

// BufferTitle returns the title a buffer of kind k carries for mainTitle.
func (k Kind) BufferTitle(mainTitle string) string {
	return k.Prefix() + mainTitle
}

// Classified is an event together with its kind and the main title it refers to.
// For a main event MainTitle equals the event title.
type Classified struct {
	Event
	Kind      Kind
	MainTitle string
}

// IsBuffer reports whether the event is a Pre or Post buffer.
func (c Classified) IsBuffer() bool {
	return c.Kind != KindMain
}

// Classify derives the kind of an event from its title.
func Classify(ev Event) Classified {
	switch {
	case strings.HasPrefix(ev.Title, PrePrefix):
		return Classified{Event: ev, Kind: KindPre, MainTitle: strings.TrimPrefix(ev.Title, PrePrefix)}
	case strings.HasPrefix(ev.Title, PostPrefix):
		return Classified{Event: ev, Kind: KindPost, MainTitle: strings.TrimPrefix(ev.Title, PostPrefix)}
	default:
		return Classified{Event: ev, Kind: KindMain, MainTitle: ev.Title}
	}
}

// ClassifyAll classifies every event in evs, preserving order.
func ClassifyAll(evs []Event) []Classified {
	out := make([]Classified, 0, len(evs))
	for _, ev := range evs {
		out = append(out, Classify(ev))
	}
	return out
}
