package proxy

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sessionCookie is the cookie mirroring the X-Session-ID header.
const sessionCookie = "golf_session"

// overrideParam is the request parameter that skips the cache read. It
// is consumed by the proxy and never forwarded upstream or keyed on.
const overrideParam = "_cache_override"

// endpointPattern bounds what the {endpoint} path segment may contain.
var endpointPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Handler serves the proxy HTTP surface.
type Handler struct {
	pipeline   *Pipeline
	logger     zerolog.Logger
	production bool
}

// NewHandler creates the HTTP handler.
func NewHandler(pipeline *Pipeline, production bool, logger zerolog.Logger) *Handler {
	return &Handler{
		pipeline:   pipeline,
		logger:     logger,
		production: production,
	}
}

// Routes registers the proxy routes on a new mux. The /metrics route is
// registered by the caller.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /proxy/{endpoint}", h.handleProxy)
	mux.HandleFunc("POST /proxy/{endpoint}", h.handleProxy)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("DELETE /cache", h.handleInvalidate)
	return mux
}

// proxyBody is the POST /proxy/{endpoint} request body. Transformations
// and OutputFormat are accepted but not honored: every known endpoint
// gets its registered transformation set, and responses are always JSON.
type proxyBody struct {
	Parameters      map[string]string `json:"parameters"`
	Transformations []string          `json:"transformations,omitempty"`
	OutputFormat    string            `json:"outputFormat,omitempty"`
	CacheOverride   bool              `json:"cacheOverride,omitempty"`
}

func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := headerOrNew(r, "X-Request-ID")
	correlationID := headerOrNew(r, "X-Correlation-ID")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Correlation-ID", correlationID)

	logger := h.logger.With().
		Str("request_id", requestID).
		Str("correlation_id", correlationID).
		Logger()

	endpoint := r.PathValue("endpoint")
	if !endpointPattern.MatchString(endpoint) {
		h.writeError(w, requestID, start, newError(KindBadRequest, "invalid endpoint name"))
		return
	}

	req := &Request{
		Endpoint:     endpoint,
		SessionToken: sessionToken(r),
		ClientIP:     clientIP(r),
		Fingerprint:  r.UserAgent(),
	}

	switch r.Method {
	case http.MethodGet:
		req.Params = make(map[string]string)
		for name, values := range r.URL.Query() {
			if len(values) > 0 {
				req.Params[name] = values[0]
			}
		}
	case http.MethodPost:
		var body proxyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			perr := newError(KindBadRequest, "invalid request body")
			if !h.production {
				perr.Details = err.Error()
			}
			h.writeError(w, requestID, start, perr)
			return
		}
		req.Params = body.Parameters
		req.CacheOverride = body.CacheOverride
	}

	if v, ok := req.Params[overrideParam]; ok {
		delete(req.Params, overrideParam)
		if override, err := strconv.ParseBool(v); err == nil && override {
			req.CacheOverride = true
		}
	}

	out := h.pipeline.Process(r.Context(), req)

	h.setSessionHeaders(w, out)
	w.Header().Set("X-Cache-Status", out.CacheStatus)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(out.RateRemaining))
	if out.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(out.RetryAfter.Seconds())+1))
	}

	duration := time.Since(start)
	event := logger.Info()
	if out.Err != nil {
		event = logger.Warn().Str("error_kind", string(out.Err.Kind))
	}
	event.
		Str("endpoint", endpoint).
		Int("status", out.Status).
		Str("cache_status", out.CacheStatus).
		Dur("duration", duration).
		Str("session_id", out.SessionID).
		Msg("Proxy request")

	envelope := Envelope{
		Success: out.Err == nil,
		Metadata: Metadata{
			RequestID:              requestID,
			Timestamp:              time.Now().UTC(),
			ProcessingTime:         duration.Round(time.Microsecond).String(),
			CacheTier:              out.CacheTier,
			TransformationsApplied: out.Transformations,
			RateLimit: &RateLimitMeta{
				Remaining: out.RateRemaining,
				ResetTime: out.RateReset,
			},
		},
	}

	switch out.CacheStatus {
	case "HIT":
		envelope.Metadata.Cached = "hit"
		envelope.Metadata.CacheAge = out.CacheAge.Seconds()
	case "STALE":
		envelope.Metadata.Cached = "stale"
		envelope.Metadata.CacheAge = out.CacheAge.Seconds()
	}

	if out.Err != nil {
		envelope.Error = &ErrorBody{
			Code:    string(out.Err.Kind),
			Message: out.Err.Message,
		}
		if !h.production {
			envelope.Error.Details = out.Err.Details
		}
		if out.Err.Kind == KindUpstream4xx && json.Valid(out.Body) {
			envelope.Data = out.Body
		}
	} else if json.Valid(out.Body) {
		envelope.Data = out.Body
	} else {
		envelope.Data, _ = json.Marshal(string(out.Body))
	}

	writeJSON(w, out.Status, envelope)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cache":     h.pipeline.CacheStats(),
		"endpoints": h.pipeline.Snapshot(),
	})
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		h.writeError(w, headerOrNew(r, "X-Request-ID"), time.Now(), newError(KindBadRequest, "pattern parameter is required"))
		return
	}

	count, err := h.pipeline.Invalidate(r.Context(), pattern)
	if err != nil {
		perr := newError(KindBadRequest, "invalid invalidation pattern")
		if !h.production {
			perr.Details = err.Error()
		}
		h.writeError(w, headerOrNew(r, "X-Request-ID"), time.Now(), perr)
		return
	}

	h.logger.Info().Str("pattern", pattern).Int("invalidated", count).Msg("Admin cache invalidation")
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": count})
}

// setSessionHeaders writes the refreshed session token as both header
// and cookie.
func (h *Handler) setSessionHeaders(w http.ResponseWriter, out *Outcome) {
	if out.SessionToken == "" {
		return
	}
	w.Header().Set("X-Session-ID", out.SessionToken)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    out.SessionToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.production,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, requestID string, start time.Time, perr *Error) {
	envelope := Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    string(perr.Kind),
			Message: perr.Message,
		},
		Metadata: Metadata{
			RequestID:      requestID,
			Timestamp:      time.Now().UTC(),
			ProcessingTime: time.Since(start).Round(time.Microsecond).String(),
		},
	}
	if !h.production {
		envelope.Error.Details = perr.Details
	}
	writeJSON(w, perr.Status, envelope)
}

// sessionToken extracts the inbound token from the X-Session-ID header,
// falling back to the golf_session cookie.
func sessionToken(r *http.Request) string {
	if token := r.Header.Get("X-Session-ID"); token != "" {
		return token
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// clientIP extracts the client address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func headerOrNew(r *http.Request, name string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(w, `{"success":false}`)
	}
}
