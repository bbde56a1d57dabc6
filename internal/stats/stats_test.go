package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
)

func visit(url, title string, start, duration int64) session.Session {
	s := session.New(session.Tab{ID: 1, URL: url, Title: title}, start)
	s.Close(start + duration)
	return s
}

// TestAggregateTotals tests today/all-time totals across all three sources
func TestAggregateTotals(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, loc)
	midnight := time.Date(2026, 3, 10, 0, 0, 0, 0, loc).Unix()

	archive := []session.ArchivedSession{
		visit("https://a.com/1", "A yesterday", midnight-3600, 100).Archive(midnight),
		visit("https://a.com/2", "A today", midnight+60, 50).Archive(midnight + 200),
	}
	pending := []session.Session{
		visit("https://b.com", "B", midnight+1000, 30),
		visit("https://www.a.com/3", "A latest", midnight+2000, 20),
	}
	current := session.New(session.Tab{ID: 9, URL: "https://c.com", Title: "C"}, now.Unix()-40)

	got := Aggregate(pending, archive, &current, now, loc)

	assert.Equal(t, int64(100+50+30+20+40), got.AllTimeTotal)
	assert.Equal(t, int64(50+30+20+40), got.TodayTotal)
	assert.Equal(t, 2, got.PendingCount)

	require.Len(t, got.Domains, 3)
	assert.Equal(t, []string{"a.com", "b.com", "c.com"}, []string{got.Domains[0].Domain, got.Domains[1].Domain, got.Domains[2].Domain})

	a := got.Domains[0]
	assert.Equal(t, 3, a.Sessions)
	assert.Equal(t, int64(170), a.TotalSeconds)
	assert.Equal(t, int64(70), a.TodaySeconds)
	assert.Equal(t, "A latest", a.LastTitle)
	assert.Equal(t, midnight+2000, a.LastSeen)

	require.NotNil(t, got.CurrentSession)
	assert.Equal(t, int64(40), got.CurrentSession.DurationSeconds)
	assert.Equal(t, "c.com", got.CurrentSession.Domain)
	assert.True(t, current.IsOpen(), "aggregation must not close the live session")
}

// TestAggregateEmpty tests the zero state
func TestAggregateEmpty(t *testing.T) {
	got := Aggregate(nil, nil, nil, time.Now(), nil)
	assert.Zero(t, got.TodayTotal)
	assert.Zero(t, got.AllTimeTotal)
	assert.Empty(t, got.Domains)
	assert.NotNil(t, got.Domains)
	assert.Nil(t, got.CurrentSession)
}

// TestSortByIsStableAndPure tests the consumer-side ordering helpers
func TestSortByIsStableAndPure(t *testing.T) {
	rows := []DomainStats{
		{Domain: "a.com", Sessions: 1, TotalSeconds: 50, TodaySeconds: 50},
		{Domain: "b.com", Sessions: 5, TotalSeconds: 100, TodaySeconds: 0},
		{Domain: "c.com", Sessions: 5, TotalSeconds: 100, TodaySeconds: 10},
	}

	byTime := SortBy(rows, SortByTime)
	assert.Equal(t, "b.com", byTime[0].Domain)
	assert.Equal(t, "c.com", byTime[1].Domain)
	assert.Equal(t, "a.com", byTime[2].Domain)

	byToday := SortBy(rows, SortByToday)
	assert.Equal(t, "a.com", byToday[0].Domain)

	bySessions := SortBy(rows, SortBySessions)
	assert.Equal(t, []string{"b.com", "c.com", "a.com"}, []string{bySessions[0].Domain, bySessions[1].Domain, bySessions[2].Domain})

	byDomain := SortBy(byTime, SortByDomain)
	assert.Equal(t, "a.com", byDomain[0].Domain)

	// Input is untouched
	assert.Equal(t, "a.com", rows[0].Domain)
	assert.Equal(t, "b.com", rows[1].Domain)
}

// TestSearch tests case-insensitive domain filtering
func TestSearch(t *testing.T) {
	rows := []DomainStats{{Domain: "github.com"}, {Domain: "go.dev"}, {Domain: "news.ycombinator.com"}}
	assert.Len(t, Search(rows, "GIT"), 1)
	assert.Len(t, Search(rows, ".com"), 2)
	assert.Len(t, Search(rows, "  "), 3)
	assert.Empty(t, Search(rows, "reddit"))
}

// TestFormatDuration tests the human readable rendering
func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "45s", FormatDuration(45))
	assert.Equal(t, "1m 5s", FormatDuration(65))
	assert.Equal(t, "2h 3m", FormatDuration(2*3600+3*60+9))
}
