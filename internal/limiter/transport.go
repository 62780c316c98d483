package limiter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTP rendition of the room-to-limiter RPC: the request method says
// whether the action is a write (POST) or an observation (GET), the
// response body is a single decimal cooldown in seconds. The default
// deployment wires rooms to the service in-process; this transport
// exists for split deployments.

// Handler serves limiter checks at /{identity}.
type Handler struct {
	service *Service
}

// NewHandler exposes a limiter service over HTTP.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := strings.Trim(r.URL.Path, "/")
	if identity == "" {
		http.Error(w, "identity required", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPost, http.MethodGet:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cooldown := h.service.Get(identity).Check(r.Method == http.MethodPost)
	fmt.Fprintf(w, "%g", cooldown)
}

// HTTPStub is the client side of the HTTP transport, bound to one
// identity on a remote authority service.
type HTTPStub struct {
	client  *http.Client
	baseURL string
}

// NewHTTPStub builds a stub for the authority service at baseURL. The
// identity is appended as the request path by Check callers via the
// URL, so one stub serves one identity.
func NewHTTPStub(baseURL, identity string) *HTTPStub {
	return &HTTPStub{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/") + "/" + identity,
	}
}

// Check performs one limiter round-trip.
func (s *HTTPStub) Check(ctx context.Context, write bool) (float64, error) {
	method := http.MethodGet
	if write {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build limiter request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("limiter request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("limiter responded %d: %w", resp.StatusCode, ErrBadCooldownResponse)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("failed to read limiter response: %w", err)
	}

	cooldown, err := strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
	if err != nil {
		return 0, ErrBadCooldownResponse
	}
	return cooldown, nil
}
