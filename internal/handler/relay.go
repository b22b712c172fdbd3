package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"xpl-relay-go/internal/model"
	"xpl-relay-go/internal/relay"
)

// RelayHandler forwards requests under the relay prefix to the upstream API.
type RelayHandler struct {
	relay  *relay.Relay
	prefix string
	logger *slog.Logger
}

// RelayPrefix is the local path prefix the relay is mounted under.
type RelayPrefix string

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(r *relay.Relay, prefix RelayPrefix, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		relay:  r,
		prefix: string(prefix),
		logger: logger.With("component", "relay_handler"),
	}
}

// Handle relays the request upstream and streams the response back.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	ur := &model.UpstreamRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Tail:     strings.TrimPrefix(strings.TrimPrefix(req.URL.Path, h.prefix), "/"),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}

	resp, err := h.relay.Forward(ur)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Copy filtered response headers
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent; a failed copy leaves the client with a
	// truncated body, so it is only logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// mapError reports a failure to reach the upstream as a 500 with the error message.
// The relay never interprets upstream error bodies; those are relayed by Handle.
func (h *RelayHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("relay error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": err.Error(),
	})
}
