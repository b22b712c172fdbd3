// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
)

// UpstreamRequest describes one inbound request to be re-issued upstream.
// Tail is the path after the local relay prefix, without a leading slash.
type UpstreamRequest struct {
	Ctx      context.Context
	Method   string
	Tail     string
	RawQuery string
	Header   http.Header
	Body     io.Reader
}

// UpstreamResponse represents the upstream response to be streamed back.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
