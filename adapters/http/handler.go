// Package http provides the HTTP surface of the metering core.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apimarket/metergate/adapters/metrics"
	"github.com/apimarket/metergate/app"
	"github.com/apimarket/metergate/domain/admission"
	"github.com/apimarket/metergate/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps the request body forwarded to providers.
const maxBodyBytes = 10 << 20

// ErrorDetail is the body of every non-2xx response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponseBody wraps ErrorDetail under an "error" key.
type ErrorResponseBody struct {
	Error ErrorDetail `json:"error"`
}

// Handler serves the invocation and dashboard endpoints.
type Handler struct {
	gateway   *app.GatewayService
	dashboard *app.DashboardService
	logger    zerolog.Logger
	metrics   *metrics.Collector
}

// NewHandler creates the HTTP handler. metrics may be nil.
func NewHandler(gateway *app.GatewayService, dashboard *app.DashboardService, logger zerolog.Logger, m *metrics.Collector) *Handler {
	return &Handler{
		gateway:   gateway,
		dashboard: dashboard,
		logger:    logger.With().Str("component", "http").Logger(),
		metrics:   m,
	}
}

// Invoke handles POST /invoke/{apiID}.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	if h.metrics != nil {
		h.metrics.InFlight.Inc()
		defer h.metrics.InFlight.Dec()
	}

	profile, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	apiID := chi.URLParam(r, "apiID")
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, 400, "bad_request", "Failed to read request body")
			return
		}
	}

	result, err := h.gateway.Invoke(ctx, profile, apiID, r.URL.RawQuery, body)
	if err != nil {
		if errors.Is(err, app.ErrRecordingFailure) {
			writeError(w, 500, "recording_failure", "Call could not be recorded")
			return
		}
		h.logger.Error().Err(err).Str("api_id", apiID).Msg("invoke failed")
		writeError(w, 500, "internal_error", "Internal error")
		return
	}

	h.observeInvocation(result, time.Since(start))
	h.logInvocation(r, profile.ID, apiID, result)

	switch result.Outcome {
	case admission.OutcomeAdmitted:
		w.Header().Set("X-Credits-Remaining", strconv.FormatInt(result.Profile.Credits, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.StatusCode)
		if len(result.Body) > 0 {
			if _, err := w.Write(result.Body); err != nil {
				h.logger.Error().Err(err).Msg("failed to write response body")
			}
		}

	case admission.OutcomeRateLimited:
		secs := int(result.RetryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.RetryAfter).Unix(), 10))
		writeError(w, 429, "rate_limited", "Hourly rate limit reached for this API")

	case admission.OutcomeInsufficientCredits:
		writeError(w, 402, "insufficient_credits", "Credit balance does not cover this call")

	default:
		writeError(w, 503, "api_unavailable", "API is not accepting calls")
	}
}

// Usage handles GET /usage.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, 400, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	calls, err := h.dashboard.RecentCalls(r.Context(), profile.ID, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("recent calls failed")
		writeError(w, 500, "internal_error", "Internal error")
		return
	}

	type callJSON struct {
		ID             string `json:"id"`
		APIID          string `json:"api_id"`
		APIName        string `json:"api_name,omitempty"`
		APIVersion     string `json:"api_version,omitempty"`
		Endpoint       string `json:"endpoint,omitempty"`
		Method         string `json:"method,omitempty"`
		Outcome        string `json:"outcome"`
		StatusCode     int    `json:"status_code"`
		LatencyMs      int64  `json:"latency_ms"`
		CreditsCharged int64  `json:"credits_charged"`
		CreatedAt      string `json:"created_at"`
	}
	out := make([]callJSON, 0, len(calls))
	for _, c := range calls {
		out = append(out, callJSON{
			ID:             c.ID,
			APIID:          c.APIID,
			APIName:        c.APIName,
			APIVersion:     c.APIVersion,
			Endpoint:       c.Endpoint,
			Method:         c.Method,
			Outcome:        string(c.Outcome),
			StatusCode:     c.StatusCode,
			LatencyMs:      c.LatencyMs,
			CreditsCharged: c.CreditsCharged,
			CreatedAt:      c.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, 200, map[string]any{"calls": out})
}

// UsageSummary handles GET /usage/summary.
func (h *Handler) UsageSummary(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, 400, "bad_request", "hours must be a positive integer")
			return
		}
		hours = n
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)
	sum, err := h.dashboard.Summary(r.Context(), profile.ID, from, to)
	if err != nil {
		h.logger.Error().Err(err).Msg("summary failed")
		writeError(w, 500, "internal_error", "Internal error")
		return
	}

	byOutcome := make(map[string]int64, len(sum.ByOutcome))
	for o, n := range sum.ByOutcome {
		byOutcome[string(o)] = n
	}
	writeJSON(w, 200, map[string]any{
		"profile_id":     sum.ProfileID,
		"from":           sum.From.Format(time.RFC3339),
		"to":             sum.To.Format(time.RFC3339),
		"total_calls":    sum.TotalCalls,
		"credits_spent":  sum.CreditsSpent,
		"avg_latency_ms": sum.AvgLatencyMs,
		"by_outcome":     byOutcome,
	})
}

// Credits handles GET /credits.
func (h *Handler) Credits(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	balance, err := h.dashboard.Credits(r.Context(), profile.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("credits read failed")
		writeError(w, 500, "internal_error", "Internal error")
		return
	}
	writeJSON(w, 200, map[string]any{"profile_id": profile.ID, "credits": balance})
}

// authenticate resolves the presented key or writes a 401.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (ports.Profile, bool) {
	profile, err := h.gateway.Authenticate(r.Context(), extractAPIKey(r))
	if err != nil {
		if errors.Is(err, app.ErrUnauthorized) {
			if h.metrics != nil {
				h.metrics.AuthFailures.Inc()
			}
			writeError(w, 401, "unauthorized", "Invalid or missing API key")
			return ports.Profile{}, false
		}
		h.logger.Error().Err(err).Msg("authentication failed")
		writeError(w, 500, "internal_error", "Internal error")
		return ports.Profile{}, false
	}
	return profile, true
}

func (h *Handler) observeInvocation(result app.InvokeResult, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	outcome := string(result.Outcome)
	h.metrics.InvocationsTotal.WithLabelValues(outcome).Inc()
	h.metrics.InvocationLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (h *Handler) logInvocation(r *http.Request, profileID, apiID string, result app.InvokeResult) {
	event := h.logger.Info()
	if result.Outcome.Rejected() {
		event = h.logger.Warn()
	}
	event.
		Str("profile_id", profileID).
		Str("api_id", apiID).
		Str("outcome", string(result.Outcome)).
		Int("status", result.StatusCode).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("invocation")
}

// extractAPIKey pulls the key from the Authorization header, the
// X-API-Key header, or the api_key query parameter, in that order.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponseBody{Error: ErrorDetail{Code: code, Message: message}})
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// RouterConfig carries optional router wiring.
type RouterConfig struct {
	Metrics        *metrics.Collector
	MetricsHandler http.Handler // overrides the default promhttp handler
}

// NewRouter assembles the service router.
func NewRouter(h *Handler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", Healthz)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	} else if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/invoke/{apiID}", h.Invoke)
	r.Get("/usage", h.Usage)
	r.Get("/usage/summary", h.UsageSummary)
	r.Get("/credits", h.Credits)

	return r
}

// NewLoggingMiddleware logs completed requests at debug level.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics.
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
