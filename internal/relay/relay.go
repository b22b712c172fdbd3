// Package relay implements the forwarding logic of the authenticated relay.
package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"xpl-relay-go/internal/client"
	"xpl-relay-go/internal/config"
	"xpl-relay-go/internal/model"
)

// allowedUpstreamHosts restricts which hosts the relay will forward to.
var allowedUpstreamHosts = map[string]bool{
	"xpltestdev.click": true,
}

// pathQueryKey is the catch-all route parameter some front ends append to the
// query string; it names the path tail and is never forwarded.
const pathQueryKey = "path"

const userAgent = "xpl-relay-go/1.0"

// cookieDomainPattern matches a Domain attribute (and its trailing separator) in a Set-Cookie value.
var cookieDomainPattern = regexp.MustCompile(`(?i)Domain=[^;]+;?\s?`)

// Options selects the relay variant. It is fixed at construction.
type Options struct {
	ForwardCookie        bool
	ForwardAuthorization bool
	StripCookieDomain    bool
	// StripHeaders holds canonical response header names that are never relayed.
	StripHeaders map[string]bool
}

// OptionsFromConfig builds Options from the relay section of the config.
func OptionsFromConfig(rc *config.RelayConfig) Options {
	return Options{
		ForwardCookie:        rc.ForwardCookie == nil || *rc.ForwardCookie,
		ForwardAuthorization: rc.ForwardAuthorization == nil || *rc.ForwardAuthorization,
		StripCookieDomain:    rc.StripCookieDomain,
		StripHeaders:         rc.StrippedHeaders(),
	}
}

// Relay re-issues inbound requests against a single fixed upstream origin.
// It keeps no state between calls.
type Relay struct {
	client  *client.UpstreamClient
	opts    Options
	logger  *slog.Logger
	baseURL *url.URL
}

// New creates a Relay for the configured upstream.
func New(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	u, err := parseBase(cfg)
	if err != nil {
		return nil, err
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	return newRelay(c, cfg, logger, u), nil
}

// NewForTest creates a Relay without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewForTest(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	u, err := parseBase(cfg)
	if err != nil {
		return nil, err
	}
	return newRelay(c, cfg, logger, u), nil
}

func parseBase(cfg *config.Config) (*url.URL, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	u.Path = strings.TrimSuffix(cfg.Upstream.BasePath, "/")
	u.RawPath = ""
	u.RawQuery = ""
	return u, nil
}

func newRelay(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, u *url.URL) *Relay {
	return &Relay{
		client:  c,
		opts:    OptionsFromConfig(&cfg.Relay),
		logger:  logger.With("component", "relay"),
		baseURL: u,
	}
}

// Options returns the forwarding options the relay was built with.
func (r *Relay) Options() Options {
	return r.opts
}

// BaseURL returns the upstream origin and base path every tail is appended to.
func (r *Relay) BaseURL() *url.URL {
	u := *r.baseURL
	return &u
}

// Forward sends req to the upstream and returns the filtered response.
// The caller is responsible for closing the response body. A transport failure
// is returned as an error; the relay itself never retries.
func (r *Relay) Forward(req *model.UpstreamRequest) (*model.UpstreamResponse, error) {
	upstreamURL := r.buildUpstreamURL(req.Tail, req.RawQuery)
	header := r.buildRequestHeaders(req.Header)

	body, err := encodeBody(req.Method, req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	r.logger.Debug("forwarding request",
		"method", req.Method,
		"tail", req.Tail,
		"cookie", header.Get("Cookie") != "",
		"authorization", header.Get("Authorization") != "",
	)

	resp, err := r.client.DoStream(req.Ctx, req.Method, upstreamURL, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = r.filterResponseHeaders(resp.Header)
	return resp, nil
}

func (r *Relay) buildUpstreamURL(tail, rawQuery string) string {
	u := *r.baseURL
	u.Path = u.Path + "/" + strings.TrimPrefix(tail, "/")
	u.RawQuery = stripQueryKey(rawQuery, pathQueryKey)
	return u.String()
}

// stripQueryKey removes every key=value pair named key from a raw query,
// keeping all other pairs in their original order and encoding.
func stripQueryKey(rawQuery, key string) string {
	if rawQuery == "" {
		return ""
	}
	kept := make([]string, 0, strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name, _, _ := strings.Cut(pair, "=")
		if unescaped, err := url.QueryUnescape(name); err == nil {
			name = unescaped
		}
		if name == key {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

func (r *Relay) buildRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	dst.Set("Content-Type", "application/json")
	dst.Set("Accept", "application/json")
	dst.Set("User-Agent", userAgent)

	if r.opts.ForwardCookie {
		if v := src.Values("Cookie"); len(v) > 0 {
			dst.Set("Cookie", strings.Join(v, "; "))
		}
	}
	if r.opts.ForwardAuthorization {
		if v := src.Get("Authorization"); v != "" {
			dst.Set("Authorization", v)
		}
	}
	return dst
}

func (r *Relay) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if r.opts.StripHeaders[ck] {
			continue
		}
		if ck == "Set-Cookie" && r.opts.StripCookieDomain {
			rewritten := make([]string, len(vals))
			for i, v := range vals {
				rewritten[i] = StripCookieDomain(v)
			}
			dst[ck] = rewritten
			continue
		}
		dst[ck] = vals
	}
	return dst
}

// StripCookieDomain removes every Domain attribute from a Set-Cookie value so
// the browser scopes the cookie to the relay's own host.
func StripCookieDomain(setCookie string) string {
	return cookieDomainPattern.ReplaceAllString(setCookie, "")
}

// encodeBody returns the JSON body to send upstream, or nil when none is sent.
// GET and HEAD never carry a body. A valid JSON document is compacted; any
// other non-empty text is sent as a JSON string.
func encodeBody(method string, body io.Reader) (io.Reader, error) {
	if method == http.MethodGet || method == http.MethodHead || body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return nil, err
		}
		return &buf, nil
	}
	encoded, err := json.Marshal(string(raw))
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(encoded), nil
}
