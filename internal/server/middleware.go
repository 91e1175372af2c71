package server

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
	corsMaxAge       = "86400"
)

// statusRecorder remembers the status a handler wrote for the request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// corsMiddleware sets the CORS headers, answers preflight requests and
// records request metrics for everything else.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.corsOrigin)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		observeRequest(r, rec.status, time.Since(start))
	}
}

// observeRequest labels metrics by route pattern, not by path, so job ids
// stay out of the label set.
func observeRequest(r *http.Request, status int, elapsed time.Duration) {
	route := r.Pattern
	if route == "" {
		route = r.URL.Path
	}
	httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
}

// rateLimitMiddleware charges each submission against the client's budget.
// A nil limiter lets everything through.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next(w, r)
			return
		}

		size := max(r.ContentLength, 0)
		if err := s.rateLimiter.CheckRateLimit(getClientIP(r), size); err != nil {
			s.handleRateLimitError(w, err)
			return
		}
		next(w, r)
	}
}

// rateLimitResponse is the body of a 429 answer.
type rateLimitResponse struct {
	Success    bool    `json:"success"`
	Error      string  `json:"error"`
	Type       string  `json:"type"`
	Limit      int64   `json:"limit"`
	Used       int64   `json:"used,omitempty"`
	RetryAfter float64 `json:"retry_after,omitempty"`
	Resets     string  `json:"resets,omitempty"`
}

// handleRateLimitError answers 429 with headers describing the exhausted
// budget. Unknown errors become a 500.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	var limited *RateLimitError
	var quota *QuotaExceededError
	h := w.Header()

	switch {
	case errors.As(err, &limited):
		rateLimitHits.WithLabelValues(limited.Type).Inc()
		h.Set("X-RateLimit-Type", limited.Type)
		h.Set("X-RateLimit-Limit", strconv.Itoa(limited.Limit))
		h.Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Round(time.Second).Seconds())))
		s.writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Error:      limited.Error(),
			Type:       limited.Type,
			Limit:      int64(limited.Limit),
			RetryAfter: limited.RetryAfter.Seconds(),
		})
	case errors.As(err, &quota):
		rateLimitHits.WithLabelValues(quota.Type).Inc()
		h.Set("X-Quota-Type", quota.Type)
		h.Set("X-Quota-Limit", strconv.FormatInt(quota.Limit, 10))
		h.Set("X-Quota-Used", strconv.FormatInt(quota.Used, 10))
		h.Set("X-Quota-Resets", quota.Resets.UTC().Format(http.TimeFormat))
		s.writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Error:  quota.Error(),
			Type:   quota.Type,
			Limit:  quota.Limit,
			Used:   quota.Used,
			Resets: quota.Resets.Format(time.RFC3339),
		})
	default:
		s.writeErrorResponse(w, "Rate limiting check failed", http.StatusInternalServerError)
	}
}

// getClientIP identifies the client for rate limiting. Proxy headers win
// over the socket address; for X-Forwarded-For the originating hop is used.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
