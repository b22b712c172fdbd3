package session

import (
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"xpl-relay-go/internal/listing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestSession_NewIsAnonymous(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.State() != Anonymous {
		t.Errorf("state = %v, want anonymous", s.State())
	}
	if s.User() != nil || s.Role() != "" {
		t.Error("new session has a user")
	}
	if _, ok := s.TokenExpiry(); ok {
		t.Error("anonymous session has a token expiry")
	}
}

func TestSession_SetTokenEmptyNotRecorded(t *testing.T) {
	s, _ := New()
	s.setToken("a")
	s.setToken("")

	if s.State() != Anonymous {
		t.Error("empty token left session authenticated")
	}
	if n := len(s.History()); n != 1 {
		t.Errorf("history = %d entries, want 1", n)
	}
}

func TestSession_RecordedAt(t *testing.T) {
	s, _ := New()
	fixed := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.setToken("a")
	if got := s.History()[0].RecordedAt; !got.Equal(fixed) {
		t.Errorf("RecordedAt = %v, want %v", got, fixed)
	}
}

func TestSession_DisposeClearsEverything(t *testing.T) {
	s, _ := New()
	u := mustParse(t, "https://xpltestdev.click/app/v1")
	s.SetCookies(u, []*http.Cookie{{Name: "XPL_RT", Value: "rt"}})
	s.signedIn("tok", &UserInfo{ID: "1", AccountType: RoleProvider})
	s.setCategories([]Category{{"id": "3"}})
	s.addPage(0, []listing.Project{{"id": "p"}}, 4)

	s.Dispose()

	if s.State() != Anonymous || len(s.History()) != 0 || s.User() != nil {
		t.Error("token state survived Dispose")
	}
	if len(s.Categories()) != 0 || len(s.Projects()) != 0 {
		t.Error("cached data survived Dispose")
	}
	if _, total, more := s.ListingState(); total != 0 || more {
		t.Errorf("listing state = (%d, %v), want reset", total, more)
	}
	if got := s.Cookies(u); len(got) != 0 {
		t.Errorf("cookies = %v, want none", got)
	}
}

func TestSession_SignedInResetsListing(t *testing.T) {
	s, _ := New()
	s.addPage(0, []listing.Project{{"id": "p"}}, 1)
	s.signedIn("tok", &UserInfo{})

	if n := len(s.Projects()); n != 0 {
		t.Errorf("projects = %d after sign-in, want 0", n)
	}
}

func TestSession_ConcurrentWrites(t *testing.T) {
	s, _ := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.setToken(string(rune('a' + i)))
			_ = s.Token()
			_ = s.History()
		}()
	}
	wg.Wait()

	if n := len(s.History()); n != historySize {
		t.Errorf("history = %d entries, want %d", n, historySize)
	}
	if s.Token() != s.History()[0].Token {
		t.Error("current token differs from newest history entry")
	}
}

func TestCategory_Name(t *testing.T) {
	tests := []struct {
		cat  Category
		want string
	}{
		{Category{"nameHe": "עיצוב", "nameEn": "Design"}, "עיצוב"},
		{Category{"nameEn": "Design"}, "Design"},
		{Category{}, ""},
	}
	for _, tt := range tests {
		if got := tt.cat.Name(); got != tt.want {
			t.Errorf("Name(%v) = %q, want %q", tt.cat, got, tt.want)
		}
	}
}
