package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calbuffer/internal/logging"
	"calbuffer/internal/models"
)

// fakeAPI is a minimal stand-in for the Calendar v3 events endpoints.
type fakeAPI struct {
	mu       sync.Mutex
	queries  []string
	inserted []calendar.Event
	deleted  []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const eventsPath = "/calendars/team@example.com/events"
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, eventsPath):
		f.queries = append(f.queries, r.URL.RawQuery)
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, map[string]any{
				"items": []map[string]any{
					{
						"id":      "main-1",
						"summary": "Planning Sync",
						"start":   map[string]string{"dateTime": "2025-03-10T10:00:00Z"},
						"end":     map[string]string{"dateTime": "2025-03-10T11:00:00Z"},
						"creator": map[string]string{"email": "alice@example.com"},
					},
					{
						"id":      "holiday",
						"summary": "Public Holiday",
						"start":   map[string]string{"date": "2025-03-11"},
						"end":     map[string]string{"date": "2025-03-12"},
					},
				},
				"nextPageToken": "page-2",
			})
			return
		}
		writeJSON(w, map[string]any{
			"items": []map[string]any{
				{
					"id":        "pre-1",
					"summary":   "Pre-Meeting: Planning Sync",
					"start":     map[string]string{"dateTime": "2025-03-10T09:00:00Z"},
					"end":       map[string]string{"dateTime": "2025-03-10T10:00:00Z"},
					"organizer": map[string]string{"email": "bot@example.com"},
					"colorId":   "11",
				},
			},
		})

	case r.Method == http.MethodPost && strings.HasSuffix(path, eventsPath):
		var ev calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.inserted = append(f.inserted, ev)
		ev.Id = "created-1"
		ev.Creator = &calendar.EventCreator{Email: "bot@example.com"}
		writeJSON(w, ev)

	case r.Method == http.MethodDelete && strings.Contains(path, eventsPath+"/"):
		id := path[strings.LastIndex(path, "/")+1:]
		switch id {
		case "gone":
			w.WriteHeader(http.StatusGone)
			writeJSON(w, map[string]any{"error": map[string]any{"code": 410, "message": "Resource has been deleted"}})
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]any{"error": map[string]any{"code": 500, "message": "Backend Error"}})
		default:
			f.deleted = append(f.deleted, id)
			w.WriteHeader(http.StatusNoContent)
		}

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T) (*CalendarClient, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	c, err := NewClientWithOptions(context.Background(), logging.Discard(), "team@example.com",
		option.WithEndpoint(ts.URL+"/calendar/v3/"),
		option.WithHTTPClient(ts.Client()),
	)
	require.NoError(t, err)
	return c, api
}

func TestListEventsFollowsPages(t *testing.T) {
	c, api := newTestClient(t)
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	events, err := c.ListEvents(context.Background(), start, start.Add(24*time.Hour))
	require.NoError(t, err)

	require.Len(t, api.queries, 2)
	assert.Contains(t, api.queries[0], "singleEvents=true")
	assert.Contains(t, api.queries[0], "timeMin=2025-03-10T08%3A00%3A00Z")
	assert.Contains(t, api.queries[1], "pageToken=page-2")

	require.Len(t, events, 2, "the all-day event is skipped")
	assert.Equal(t, models.Event{
		ID:        "main-1",
		Title:     "Planning Sync",
		StartTime: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
		Creator:   "alice@example.com",
	}, events[0])
	assert.Equal(t, "bot@example.com", events[1].Creator, "falls back to the organizer")
	assert.Equal(t, models.ColorTomato, events[1].ColorID)
}

func TestCreateEventSetsColor(t *testing.T) {
	c, api := newTestClient(t)
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ev, err := c.CreateEvent(context.Background(), models.NewEvent{
		Title:       "Pre-Meeting: Planning Sync",
		Description: "Preparation time for Planning Sync",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		ColorID:     models.ColorTomato,
	})
	require.NoError(t, err)

	require.Len(t, api.inserted, 1)
	sent := api.inserted[0]
	assert.Equal(t, "Pre-Meeting: Planning Sync", sent.Summary)
	assert.Equal(t, "Preparation time for Planning Sync", sent.Description)
	assert.Equal(t, "11", sent.ColorId)
	assert.Equal(t, "2025-03-10T09:00:00Z", sent.Start.DateTime)
	assert.Equal(t, "2025-03-10T10:00:00Z", sent.End.DateTime)

	assert.Equal(t, "created-1", ev.ID)
	assert.Equal(t, models.ColorTomato, ev.ColorID)
	assert.True(t, start.Equal(ev.StartTime))
}

func TestDeleteEvent(t *testing.T) {
	c, api := newTestClient(t)

	require.NoError(t, c.DeleteEvent(context.Background(), "pre-1"))
	assert.Equal(t, []string{"pre-1"}, api.deleted)

	assert.NoError(t, c.DeleteEvent(context.Background(), "gone"), "410 means it is already deleted")
	assert.Error(t, c.DeleteEvent(context.Background(), "broken"))
}

func TestToInternalEventSkipsUntimed(t *testing.T) {
	_, ok := toInternalEvent(nil)
	assert.False(t, ok)

	_, ok = toInternalEvent(&calendar.Event{Id: "x", Start: &calendar.EventDateTime{Date: "2025-03-10"}})
	assert.False(t, ok)

	_, ok = toInternalEvent(&calendar.Event{
		Id:    "x",
		Start: &calendar.EventDateTime{DateTime: "not a time"},
		End:   &calendar.EventDateTime{DateTime: "2025-03-10T10:00:00Z"},
	})
	assert.False(t, ok)
}

func TestGetOAuthConfigFromCredentials(t *testing.T) {
	cfg, err := getOAuthConfig("id", "secret")
	require.NoError(t, err)
	assert.Equal(t, "id", cfg.ClientID)
	assert.Equal(t, []string{calendar.CalendarEventsScope}, cfg.Scopes)
}

func TestTokenFiles(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "token-work.json", TokenFile("work"))

	tok := &oauth2.Token{AccessToken: "abc", RefreshToken: "def"}
	path := filepath.Join(dir, TokenFile("work"))
	require.NoError(t, SaveToken(path, tok))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", loaded.AccessToken)
	assert.Equal(t, "def", loaded.RefreshToken)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o600))
	accounts, err := GetTokenAccounts(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, accounts)
}
