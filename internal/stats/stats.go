package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
)

// DomainStats is one row of the per-domain table
type DomainStats struct {
	Domain       string `json:"domain"`
	Sessions     int    `json:"sessions"`
	TotalSeconds int64  `json:"total_seconds"`
	TodaySeconds int64  `json:"today_seconds"`
	LastTitle    string `json:"last_title"`
	LastSeen     int64  `json:"last_seen"` // Start of the most recent visit
}

// CurrentView describes the open session as of now
type CurrentView struct {
	URL             string `json:"url"`
	Domain          string `json:"domain"`
	Title           string `json:"title"`
	StartTimestamp  int64  `json:"start_timestamp"`
	DurationSeconds int64  `json:"duration_seconds"`
	TabID           int    `json:"tab_id"`
}

// Stats is the aggregated view consumed by the display layer
type Stats struct {
	TodayTotal     int64         `json:"today_total"`
	AllTimeTotal   int64         `json:"all_time_total"`
	Domains        []DomainStats `json:"domains"`
	PendingCount   int           `json:"pending_count"`
	CurrentSession *CurrentView  `json:"current_session,omitempty"`
	GeneratedAt    int64         `json:"generated_at"`
}

// Aggregate folds pending, archived and the live session into totals. The
// open session is counted as if it closed at now. Rows are ordered by domain.
func Aggregate(pending []session.Session, archive []session.ArchivedSession, current *session.Session, now time.Time, loc *time.Location) Stats {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).Unix()

	byDomain := make(map[string]*DomainStats)
	out := Stats{PendingCount: len(pending), GeneratedAt: now.Unix()}

	add := func(s session.Session) {
		row, ok := byDomain[s.Domain]
		if !ok {
			row = &DomainStats{Domain: s.Domain}
			byDomain[s.Domain] = row
		}
		row.Sessions++
		row.TotalSeconds += s.DurationSeconds
		out.AllTimeTotal += s.DurationSeconds
		if s.StartTimestamp >= midnight {
			row.TodaySeconds += s.DurationSeconds
			out.TodayTotal += s.DurationSeconds
		}
		if s.StartTimestamp >= row.LastSeen {
			row.LastSeen = s.StartTimestamp
			if s.Title != "" {
				row.LastTitle = s.Title
			}
		}
	}

	for _, a := range archive {
		add(a.Session)
	}
	for _, s := range pending {
		add(s)
	}
	if current != nil {
		live := current.ClosedAt(now.Unix())
		add(live)
		out.CurrentSession = &CurrentView{
			URL:             live.URL,
			Domain:          live.Domain,
			Title:           live.Title,
			StartTimestamp:  live.StartTimestamp,
			DurationSeconds: live.DurationSeconds,
			TabID:           live.TabID,
		}
	}

	out.Domains = make([]DomainStats, 0, len(byDomain))
	for _, row := range byDomain {
		out.Domains = append(out.Domains, *row)
	}
	sort.Slice(out.Domains, func(i, j int) bool {
		return out.Domains[i].Domain < out.Domains[j].Domain
	})
	return out
}

// Sort keys understood by SortBy
const (
	SortByTime     = "time"
	SortByToday    = "today"
	SortBySessions = "sessions"
	SortByDomain   = "domain"
)

// SortBy returns a sorted copy of rows. Unknown keys sort by total time.
// Ties are broken by domain so the order is deterministic.
func SortBy(rows []DomainStats, key string) []DomainStats {
	sorted := make([]DomainStats, len(rows))
	copy(sorted, rows)

	var less func(a, b DomainStats) bool
	switch key {
	case SortByDomain:
		less = func(a, b DomainStats) bool { return a.Domain < b.Domain }
	case SortByToday:
		less = func(a, b DomainStats) bool {
			if a.TodaySeconds != b.TodaySeconds {
				return a.TodaySeconds > b.TodaySeconds
			}
			return a.Domain < b.Domain
		}
	case SortBySessions:
		less = func(a, b DomainStats) bool {
			if a.Sessions != b.Sessions {
				return a.Sessions > b.Sessions
			}
			return a.Domain < b.Domain
		}
	default:
		less = func(a, b DomainStats) bool {
			if a.TotalSeconds != b.TotalSeconds {
				return a.TotalSeconds > b.TotalSeconds
			}
			return a.Domain < b.Domain
		}
	}

	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}

// Search keeps rows whose domain contains q, case-insensitively
func Search(rows []DomainStats, q string) []DomainStats {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return rows
	}
	matched := make([]DomainStats, 0, len(rows))
	for _, row := range rows {
		if strings.Contains(strings.ToLower(row.Domain), q) {
			matched = append(matched, row)
		}
	}
	return matched
}

// FormatDuration renders seconds the way the popup shows them
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, sec := seconds/3600, (seconds%3600)/60, seconds%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
