package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"xpl-relay-go/internal/client"
	"xpl-relay-go/internal/config"
	"xpl-relay-go/internal/listing"
	"xpl-relay-go/internal/metrics"
)

// maxBodyBytes bounds how much of a response body the controller reads.
const maxBodyBytes = 10 << 20

// Controller drives a Session against the relay (or the upstream directly).
// It keeps no state of its own; everything lives in the Session.
type Controller struct {
	baseURL            string
	registrationMethod string
	pageSize           int
	refreshOn          map[int]bool

	sess       *Session
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewController returns a controller for sess using the session section of
// cfg. The metrics parameter is optional; pass nil to disable recording.
func NewController(cfg *config.Config, sess *Session, logger *slog.Logger, m *metrics.Metrics) *Controller {
	refreshOn := make(map[int]bool, len(cfg.Session.RefreshOnStatus))
	for _, code := range cfg.Session.RefreshOnStatus {
		refreshOn[code] = true
	}

	return &Controller{
		baseURL:            strings.TrimRight(cfg.Session.BaseURL, "/"),
		registrationMethod: cfg.Session.RegistrationMethod,
		pageSize:           cfg.Session.PageSize,
		refreshOn:          refreshOn,
		sess:               sess,
		httpClient:         client.NewHTTPClient(cfg, sess),
		logger:             logger.With("component", "session"),
		metrics:            m,
	}
}

// Session returns the session this controller drives.
func (c *Controller) Session() *Session {
	return c.sess
}

type signInRequest struct {
	Email                  string `json:"email"`
	Password               string `json:"password"`
	UserRegistrationMethod string `json:"userRegistrationMethod"`
}

// Login signs in with email and password. On success the session holds the
// new token and user info and its cached listing is cleared.
func (c *Controller) Login(ctx context.Context, email, password string) (*UserInfo, error) {
	payload := signInRequest{Email: email, Password: password, UserRegistrationMethod: c.registrationMethod}

	resp, err := c.call(ctx, "sign-in", http.MethodPost, "/security/sign-in", "", payload, "")
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		uerr := resp.upstreamError("sign-in")
		return nil, &AuthenticationError{Status: uerr.Status, Messages: uerr.Messages, Err: uerr}
	}

	token := extractToken(resp.body)
	if token == "" {
		return nil, &AuthenticationError{Status: resp.status, Err: ErrNoToken}
	}

	user := extractUser(resp.body)
	if claims, err := DecodeClaims(token); err == nil {
		user.AccountType = claims.AccountType
	} else {
		c.logger.Debug("token claims not decodable", "err", err)
	}

	c.sess.signedIn(token, user)
	c.logger.Info("signed in", "user_id", user.ID, "account_type", user.AccountType)

	u := *user
	return &u, nil
}

// Refresh exchanges the refresh cookie for a new access token. On failure the
// current token is left unchanged.
func (c *Controller) Refresh(ctx context.Context) (string, error) {
	token, err := c.refresh(ctx)
	if err != nil {
		c.recordRefresh("failed")
		return "", err
	}
	c.recordRefresh("ok")
	c.sess.setToken(token)
	return token, nil
}

func (c *Controller) refresh(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, "refresh", http.MethodPost, "/security/refresh", "", nil, "")
	if err != nil {
		return "", &RefreshError{Err: err}
	}
	if !resp.ok() {
		return "", &RefreshError{Err: resp.upstreamError("refresh")}
	}

	obj, _ := resp.body.(map[string]any)
	token, _ := obj["accessToken"].(string)
	if token == "" {
		return "", &RefreshError{Err: ErrNoToken}
	}
	return token, nil
}

func (c *Controller) recordRefresh(result string) {
	if c.metrics != nil {
		c.metrics.SessionRefreshes.WithLabelValues(result).Inc()
	}
}

// FetchProjects fetches one listing page. Page 0 replaces the cached listing;
// later pages append to it. A size of zero or less uses the configured page
// size. PROVIDER accounts list through the search endpoint filtered by the
// loaded categories.
func (c *Controller) FetchProjects(ctx context.Context, page, size int) (*listing.Page, error) {
	if size <= 0 {
		size = c.pageSize
	}

	path, query := "/projects", c.pageQuery(nil, page, size, false)
	if c.sess.Role() == RoleProvider {
		path, query = "/search/projects_search", c.pageQuery(c.sess.Categories(), page, size, true)
	}

	resp, err := c.withRefresh(ctx, "projects", func(token string) (*response, error) {
		return c.call(ctx, "projects", http.MethodGet, path, query, nil, token)
	})
	if err != nil {
		return nil, err
	}

	items, total := listing.Normalize(resp.body)
	p := c.sess.addPage(page, items, total)
	c.logger.Debug("projects page fetched", "page", page, "items", len(items), "total", p.Total)
	return &p, nil
}

// pageQuery builds the listing query in the order the upstream documents:
// category filters, page, size, then the search flag.
func (c *Controller) pageQuery(cats []Category, page, size int, search bool) string {
	var parts []string
	for _, cat := range cats {
		if id := cat.ID(); id != "" {
			parts = append(parts, "cat="+url.QueryEscape(id))
		}
	}
	parts = append(parts, "page="+strconv.Itoa(page), "size="+strconv.Itoa(size))
	if search {
		parts = append(parts, "sb=true")
	}
	return strings.Join(parts, "&")
}

// FetchCategories loads the categories of the signed-in user and stores them
// on the session. A body that is not an array yields an empty list.
func (c *Controller) FetchCategories(ctx context.Context) ([]Category, error) {
	resp, err := c.withRefresh(ctx, "categories", func(token string) (*response, error) {
		return c.call(ctx, "categories", http.MethodGet, "/core/categories_user", "", nil, token)
	})
	if err != nil {
		return nil, err
	}

	var cats []Category
	if arr, ok := resp.body.([]any); ok {
		for _, v := range arr {
			if m, ok := v.(map[string]any); ok {
				cats = append(cats, Category(m))
			}
		}
	}
	if cats == nil {
		cats = []Category{}
	}
	c.sess.setCategories(cats)
	return cats, nil
}

// SignOut tells the upstream to end the session and clears local state
// whatever the outcome.
func (c *Controller) SignOut(ctx context.Context) error {
	resp, err := c.call(ctx, "sign-out", http.MethodPost, "/security/sign-out", "", nil, c.sess.Token())
	c.sess.Dispose()

	if err != nil {
		c.logger.Warn("sign-out failed", "err", err)
		return err
	}
	if !resp.ok() {
		uerr := resp.upstreamError("sign-out")
		c.logger.Warn("sign-out rejected", "status", uerr.Status, "err", uerr)
		return uerr
	}
	c.logger.Info("signed out")
	return nil
}

// withRefresh runs attempt with the current token. When it fails with one of
// the refresh statuses, it refreshes once and retries once with the new token.
// A failed refresh surfaces the first attempt's error.
func (c *Controller) withRefresh(ctx context.Context, op string, attempt func(token string) (*response, error)) (*response, error) {
	resp, err := attempt(c.sess.Token())
	if err != nil {
		return nil, err
	}
	if resp.ok() {
		return resp, nil
	}

	first := resp.upstreamError(op)
	if !c.refreshOn[first.Status] {
		return nil, first
	}

	c.logger.Debug("refreshing token after rejected call", "op", op, "status", first.Status)
	token, err := c.Refresh(ctx)
	if err != nil {
		c.logger.Warn("token refresh failed", "op", op, "err", err)
		return nil, first
	}

	resp, err = attempt(token)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.upstreamError(op)
	}
	return resp, nil
}

type response struct {
	status int
	body   any
	raw    []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *response) upstreamError(op string) *UpstreamError {
	return &UpstreamError{Op: op, Status: r.status, Messages: extractMessages(r.body), Body: string(r.raw)}
}

// call performs one request. Cookies always ride along through the session
// jar; the bearer is attached only when token is non-empty.
func (c *Controller) call(ctx context.Context, op, method, path, rawQuery string, payload any, token string) (*response, error) {
	target := c.baseURL + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	out := &response{status: resp.StatusCode, raw: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		v, err := decodeJSON(raw)
		if err != nil {
			c.logger.Debug("response body ignored", "err", &DecodeError{Op: op, Err: err}, "status", resp.StatusCode)
		} else {
			out.body = v
		}
	}
	return out, nil
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// extractToken reads user_info.tokenDto, which is either the token itself or
// an object carrying accessToken.
func extractToken(body any) string {
	obj, _ := body.(map[string]any)
	info, _ := obj["user_info"].(map[string]any)
	switch dto := info["tokenDto"].(type) {
	case string:
		return dto
	case map[string]any:
		token, _ := dto["accessToken"].(string)
		return token
	}
	return ""
}

func extractUser(body any) *UserInfo {
	obj, _ := body.(map[string]any)
	info, _ := obj["user_info"].(map[string]any)
	company, _ := obj["company_info"].(map[string]any)
	return &UserInfo{
		ID:                 text(info["id"]),
		FirstName:          text(info["firstName"]),
		LastName:           text(info["lastName"]),
		Username:           text(info["username"]),
		ActivePlan:         text(info["activePlan"]),
		CompanyAccountType: text(company["companyAccountType"]),
		LastLogin:          text(company["lastLogin"]),
	}
}

func extractMessages(body any) []string {
	obj, _ := body.(map[string]any)
	list, _ := obj["messages"].([]any)
	var out []string
	for _, m := range list {
		if s := text(m); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// text renders a scalar JSON value as a string; nil and composites give "".
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
