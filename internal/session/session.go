// Package session implements the client side of the relay: sign-in, token
// refresh, project and category listing, and sign-out, with the bearer token
// and refresh cookie held in an explicit Session.
package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"xpl-relay-go/internal/listing"
)

// historySize is the number of tokens kept for display.
const historySize = 3

// RoleProvider is the account type that lists projects through the search
// endpoint filtered by its categories.
const RoleProvider = "PROVIDER"

// State is the authentication state derived from token presence.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// TokenRecord is one entry of the token history.
type TokenRecord struct {
	Token       string
	ExpiresAt   time.Time
	ExpiryKnown bool
	RecordedAt  time.Time
}

// UserInfo is the signed-in user as reported by the sign-in response and the
// token claims.
type UserInfo struct {
	ID                 string
	FirstName          string
	LastName           string
	Username           string
	ActivePlan         string
	CompanyAccountType string
	LastLogin          string
	AccountType        string
}

// Category is one category record as returned by the upstream.
type Category map[string]any

// ID returns the category id as text.
func (c Category) ID() string {
	return text(c["id"])
}

// Name prefers the Hebrew name, then the English one.
func (c Category) Name() string {
	if n := text(c["nameHe"]); n != "" {
		return n
	}
	return text(c["nameEn"])
}

// Session holds everything one signed-in user accumulates: the bearer token,
// its history, user info, categories, the cached listing and the cookie jar
// carrying the refresh cookie. It is safe for concurrent use; overlapping
// writes resolve last-write-wins.
type Session struct {
	mu         sync.Mutex
	token      string
	history    []TokenRecord
	user       *UserInfo
	categories []Category
	projects   listing.Accumulator
	jar        *cookiejar.Jar

	now func() time.Time
}

// New returns an anonymous session with an empty cookie jar.
func New() (*Session, error) {
	jar, err := newJar()
	if err != nil {
		return nil, err
	}
	return &Session{jar: jar, now: time.Now}, nil
}

func newJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// SetCookies implements http.CookieJar.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	jar := s.jar
	s.mu.Unlock()
	jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	s.mu.Lock()
	jar := s.jar
	s.mu.Unlock()
	return jar.Cookies(u)
}

// State reports whether the session holds a token.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return Anonymous
	}
	return Authenticated
}

// Token returns the current bearer token, or "" when anonymous.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// TokenExpiry decodes the expiry of the current token.
func (s *Session) TokenExpiry() (time.Time, bool) {
	return Expiry(s.Token())
}

// History returns the recorded tokens, newest first.
func (s *Session) History() []TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// User returns a copy of the signed-in user, or nil when unknown.
func (s *Session) User() *UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Role returns the account type of the signed-in user.
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.AccountType
}

// Categories returns the loaded categories.
func (s *Session) Categories() []Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.categories)
}

// Projects returns the accumulated project listing.
func (s *Session) Projects() []listing.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects.Projects()
}

// ListingState returns the last fetched page, the total and whether more
// pages exist.
func (s *Session) ListingState() (page, total int, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects.State()
}

// Dispose returns the session to the anonymous state, dropping the token,
// its history, user info, categories, the cached listing and all cookies.
func (s *Session) Dispose() {
	jar, err := newJar()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.history = nil
	s.user = nil
	s.categories = nil
	s.projects.Reset()
	if err == nil {
		s.jar = jar
	}
}

// setToken stores a new token and records it at the head of the history.
func (s *Session) setToken(token string) {
	exp, known := Expiry(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	if token == "" {
		return
	}
	rec := TokenRecord{Token: token, ExpiresAt: exp, ExpiryKnown: known, RecordedAt: s.now()}
	s.history = append([]TokenRecord{rec}, s.history...)
	if len(s.history) > historySize {
		s.history = s.history[:historySize]
	}
}

func (s *Session) signedIn(token string, user *UserInfo) {
	s.setToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.categories = nil
	s.projects.Reset()
}

func (s *Session) setCategories(cats []Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = cats
}

func (s *Session) addPage(number int, items []listing.Project, total int) listing.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects.Add(number, items, total)
}
