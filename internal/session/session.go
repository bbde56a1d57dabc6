package session

import (
	"net/url"
	"strings"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

// Session represents one continuous visit to a URL on a tab
type Session struct {
	URL             string `json:"url"`             // Full URL of the page
	Domain          string `json:"domain"`          // Derived from URL, see ExtractDomain
	Title           string `json:"title"`           // Last known page title
	StartTimestamp  int64  `json:"startTimestamp"`  // Unix seconds
	EndTimestamp    *int64 `json:"endTimestamp"`    // Unix seconds, nil while open
	DurationSeconds int64  `json:"durationSeconds"` // End - Start, 0 while open
	TabID           int    `json:"tabId"`           // Browser tab the visit happened on
	Incognito       bool   `json:"incognito"`       // Whether the tab was private
}

// ArchivedSession is a session that left the pending buffer
type ArchivedSession struct {
	Session
	ArchivedAt int64 `json:"archivedAt"` // Unix seconds
}

// Tab is the browser-side view of a tab at the time of an event
type Tab struct {
	ID        int    `json:"id"`
	WindowID  int    `json:"window_id,omitempty"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Incognito bool   `json:"incognito"`
}

// New opens a session for the tab starting at the given unix time.
func New(tab Tab, start int64) Session {
	return Session{
		URL:            tab.URL,
		Domain:         ExtractDomain(tab.URL),
		Title:          tab.Title,
		StartTimestamp: start,
		TabID:          tab.ID,
		Incognito:      tab.Incognito,
	}
}

// IsOpen reports whether the session has not been closed yet
func (s Session) IsOpen() bool {
	return s.EndTimestamp == nil
}

// Close finalizes the session at end. End times before the start are clamped
// so the duration is never negative.
func (s *Session) Close(end int64) {
	if end < s.StartTimestamp {
		end = s.StartTimestamp
	}
	s.EndTimestamp = &end
	s.DurationSeconds = end - s.StartTimestamp
}

// Clone returns a copy that shares no memory with s
func (s Session) Clone() Session {
	if s.EndTimestamp != nil {
		end := *s.EndTimestamp
		s.EndTimestamp = &end
	}
	return s
}

// ClosedAt returns a closed copy of the session as of now, leaving s untouched.
func (s Session) ClosedAt(now int64) Session {
	c := s.Clone()
	if c.IsOpen() {
		c.Close(now)
	}
	return c
}

// Archive stamps a copy of the session with the archive time
func (s Session) Archive(at int64) ArchivedSession {
	return ArchivedSession{Session: s.Clone(), ArchivedAt: at}
}

// VisitKey identifies a visit across the pending buffer, archive and failed queue
type VisitKey struct {
	TabID          int
	URL            string
	StartTimestamp int64
}

// Key returns the identity of the visit
func (s Session) Key() VisitKey {
	return VisitKey{TabID: s.TabID, URL: s.URL, StartTimestamp: s.StartTimestamp}
}

// ExtractDomain returns the lower-cased host of rawURL without a leading
// "www.". Unparseable URLs fall back to the full string.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// IsTrackable reports whether a URL is a regular web page. Browser internal
// pages, extension pages and local files are never tracked.
func IsTrackable(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// NowUnix returns the clock's current time in unix seconds
func NowUnix(clock quartz.Clock) int64 {
	return clock.Now().Unix()
}

// NewDeviceID generates a fresh installation identifier
func NewDeviceID() string {
	return uuid.NewString()
}
