package handler

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"xpl-relay-go/internal/relay"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	relay   *relay.Relay
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(r *relay.Relay, v Version) *HealthHandler {
	return &HealthHandler{relay: r, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status               string   `json:"status"`
	Version              string   `json:"version"`
	UpstreamURL          string   `json:"upstream_url"`
	ForwardCookie        bool     `json:"forward_cookie"`
	ForwardAuthorization bool     `json:"forward_authorization"`
	StripCookieDomain    bool     `json:"strip_cookie_domain"`
	StripHeaders         []string `json:"strip_headers"`
}

// Status returns relay status and the forwarding variant in use.
func (h *HealthHandler) Status(c echo.Context) error {
	opts := h.relay.Options()
	stripped := make([]string, 0, len(opts.StripHeaders))
	for name := range opts.StripHeaders {
		stripped = append(stripped, name)
	}
	slices.Sort(stripped)

	return c.JSON(http.StatusOK, statusResponse{
		Status:               "ok",
		Version:              string(h.version),
		UpstreamURL:          h.relay.BaseURL().String(),
		ForwardCookie:        opts.ForwardCookie,
		ForwardAuthorization: opts.ForwardAuthorization,
		StripCookieDomain:    opts.StripCookieDomain,
		StripHeaders:         stripped,
	})
}
