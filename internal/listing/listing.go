package listing

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Page is the result of fetching one listing page.
type Page struct {
	Number  int
	Items   []Project
	Total   int
	HasMore bool
}

// Accumulator collects listing pages into one cached list.
// The zero value is ready to use. It is not safe for concurrent use.
type Accumulator struct {
	projects []Project
	total    int
	page     int
	hasMore  bool
}

// Add records a fetched page. Page 0 replaces the cached list; later pages
// append to it. A zero total falls back to the accumulated length.
func (a *Accumulator) Add(number int, items []Project, total int) Page {
	if number == 0 {
		a.projects = nil
	}
	a.projects = append(a.projects, items...)
	if total <= 0 {
		total = len(a.projects)
	}
	a.total = total
	a.page = number
	a.hasMore = len(a.projects) < total

	return Page{Number: number, Items: items, Total: total, HasMore: a.hasMore}
}

// Projects returns a copy of the accumulated list.
func (a *Accumulator) Projects() []Project {
	return slices.Clone(a.projects)
}

// State returns the last page number, the total and whether more pages exist.
func (a *Accumulator) State() (page, total int, hasMore bool) {
	return a.page, a.total, a.hasMore
}

// Reset drops all cached pages.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// SortKey selects the secondary ordering applied after hot projects.
type SortKey string

// Sort keys.
const (
	SortDefault      SortKey = "default"
	SortCreationDate SortKey = "creationDate"
	SortExpiryDate   SortKey = "expiryDate"
	SortPrice        SortKey = "price"
)

// ParseSortKey validates a sort key name. Empty means SortDefault.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortDefault, nil
	case SortDefault, SortCreationDate, SortExpiryDate, SortPrice:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q (want default, creationDate, expiryDate or price)", s)
}

// Split partitions projects into recent (expiring after today, or with no
// expiry) and history (expiring today or earlier). Dates are compared by
// calendar day in now's location. When allRecent is set every project is
// recent; search results for provider accounts are shown that way.
func Split(projects []Project, now time.Time, allRecent bool) (recent, history []Project) {
	if allRecent {
		return slices.Clone(projects), nil
	}
	today := dayOf(now, now.Location())
	for _, p := range projects {
		if !p.has(expiryKeys...) {
			recent = append(recent, p)
			continue
		}
		// An expiry that cannot be parsed is treated as already past.
		if exp, ok := p.ExpiryDate(); ok && dayOf(exp, now.Location()).After(today) {
			recent = append(recent, p)
			continue
		}
		history = append(history, p)
	}
	return recent, history
}

// Sort orders projects in place: hot projects first, then by key.
// Creation date sorts newest first, expiry date earliest first, price highest
// first. Ties keep their original order.
func Sort(projects []Project, by SortKey) {
	slices.SortStableFunc(projects, func(a, b Project) int {
		if ah, bh := a.Hot(), b.Hot(); ah != bh {
			if ah {
				return -1
			}
			return 1
		}
		switch by {
		case SortCreationDate:
			return cmp.Compare(epochMillis(b.CreationDate()), epochMillis(a.CreationDate()))
		case SortExpiryDate:
			return cmp.Compare(epochMillis(a.ExpiryDate()), epochMillis(b.ExpiryDate()))
		case SortPrice:
			return cmp.Compare(b.Price(), a.Price())
		}
		return 0
	})
}

// ID returns the project id formatted for display.
func (p Project) ID() string {
	return display(p["id"])
}

// Name returns the project name, falling back to its title.
func (p Project) Name() string {
	if n := display(p["name"]); n != "" {
		return n
	}
	return display(p["title"])
}

// Hot reports whether the project is flagged as hot.
func (p Project) Hot() bool {
	return truthy(p["isHotProject"])
}

// Price returns amount_pj, or 0 when absent.
func (p Project) Price() float64 {
	f, _ := number(p["amount_pj"])
	return f
}

var expiryKeys = []string{"expiryDate", "expirationDate", "projectDueDate"}

// ExpiryDate returns the first set of expiryDate, expirationDate and
// projectDueDate, parsed.
func (p Project) ExpiryDate() (time.Time, bool) {
	return p.firstDate(expiryKeys...)
}

// CreationDate returns the first set of creationDate and createdAt, parsed.
func (p Project) CreationDate() (time.Time, bool) {
	return p.firstDate("creationDate", "createdAt")
}

func (p Project) has(keys ...string) bool {
	for _, k := range keys {
		if truthy(p[k]) {
			return true
		}
	}
	return false
}

func (p Project) firstDate(keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if !truthy(p[k]) {
			continue
		}
		return parseDate(p[k])
	}
	return time.Time{}, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts ISO-8601 strings and epoch milliseconds.
func parseDate(v any) (time.Time, bool) {
	if s, ok := v.(string); ok {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if ms, ok := number(v); ok {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

func epochMillis(t time.Time, ok bool) int64 {
	if !ok {
		return 0
	}
	return t.UnixMilli()
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func display(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// FormatRemaining renders a token countdown as "Xm Ys", "expired", or "n/a"
// when the expiry is unknown.
func FormatRemaining(expiry time.Time, known bool, now time.Time) string {
	if !known {
		return "n/a"
	}
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return "expired"
	}
	total := int(remaining / time.Second)
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

// Snippet shortens a long token for display, keeping both ends.
func Snippet(token string) string {
	if len(token) <= 48 {
		return token
	}
	return token[:24] + "…" + token[len(token)-20:]
}

// FormatDate renders a date as DD/MM/YYYY, or "n/a".
func FormatDate(t time.Time, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%02d/%02d/%d", t.Day(), int(t.Month()), t.Year())
}
