package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apimarket/metergate/adapters/clock"
	apihttp "github.com/apimarket/metergate/adapters/http"
	"github.com/apimarket/metergate/adapters/idgen"
	"github.com/apimarket/metergate/adapters/memory"
	"github.com/apimarket/metergate/adapters/metrics"
	"github.com/apimarket/metergate/app"
	"github.com/apimarket/metergate/domain/credential"
	"github.com/apimarket/metergate/domain/listing"
	"github.com/apimarket/metergate/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var baseTime = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

const rawKey = "mk_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type testStores struct {
	clock    *clock.Fake
	profiles *memory.ProfileStore
	listings *memory.ListingStore
	ledger   *memory.UsageStore
	provider *stubProvider
}

type stubProvider struct {
	result ports.ProviderResult
}

func (p *stubProvider) Dispatch(ctx context.Context, l listing.Listing, query string, body []byte) (ports.ProviderResult, error) {
	return p.result, nil
}

func setupTestRouter(t *testing.T) (http.Handler, *testStores) {
	t.Helper()
	s := &testStores{
		clock:    clock.NewFake(baseTime),
		profiles: memory.NewProfileStore(),
		listings: memory.NewListingStore(),
		ledger:   memory.NewUsageStore(),
		provider: &stubProvider{result: ports.ProviderResult{StatusCode: 200, LatencyMs: 7, Body: []byte(`{"temp":21}`)}},
	}

	logger := zerolog.Nop()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	recorder := app.NewRecorder(s.ledger, logger, m, app.RecorderConfig{BaseBackoff: time.Millisecond})
	gateway := app.NewGatewayService(app.GatewayDeps{
		Profiles: s.profiles,
		Listings: s.listings,
		Window:   memory.NewRateWindow(memory.RateWindowConfig{}),
		Provider: s.provider,
		Recorder: recorder,
		Clock:    s.clock,
		IDGen:    idgen.NewSequential("rec-"),
		Logger:   logger,
	}, app.GatewayConfig{})
	dashboard := app.NewDashboardService(app.DashboardDeps{
		Profiles: s.profiles,
		Listings: s.listings,
		Ledger:   s.ledger,
		Logger:   logger,
	})
	handler := apihttp.NewHandler(gateway, dashboard, logger, m)
	return apihttp.NewRouter(handler, logger, apihttp.RouterConfig{Metrics: m}), s
}

func seedCaller(t *testing.T, s *testStores, credits int64) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	err = s.profiles.Create(context.Background(), ports.Profile{
		ID:      "user-1",
		Email:   "dev@example.com",
		Credits: credits,
		Key: credential.Credential{
			Prefix:   rawKey[:credential.LookupLen],
			Hash:     hash,
			IssuedAt: baseTime.Add(-time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("seed caller: %v", err)
	}
}

func seedWeatherAPI(t *testing.T, s *testStores, rateCap int, cost int64) {
	t.Helper()
	err := s.listings.Create(context.Background(), listing.Listing{
		ID: "api-1", Name: "Weather API", Version: "v2",
		Status: listing.StatusActive, RateCap: rateCap, CreditCost: cost,
		Endpoint: listing.EndpointSpec{Method: "GET", Path: "/v2/current"},
	})
	if err != nil {
		t.Fatalf("seed listing: %v", err)
	}
}

func TestInvoke_Success(t *testing.T) {
	router, s := setupTestRouter(t)
	seedCaller(t, s, 100)
	seedWeatherAPI(t, s, 10, 3)

	req := httptest.NewRequest("POST", "/invoke/api-1?city=berlin", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		body, _ := io.ReadAll(rec.Body)
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, body)
	}
	if got := rec.Header().Get("X-Credits-Remaining"); got != "97" {
		t.Errorf("X-Credits-Remaining = %q, want 97", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9", got)
	}
	if body := rec.Body.String(); body != `{"temp":21}` {
		t.Errorf("body = %s, want provider envelope", body)
	}
}

func TestInvoke_Unauthorized(t *testing.T) {
	router, s := setupTestRouter(t)
	seedCaller(t, s, 100)
	seedWeatherAPI(t, s, 10, 1)

	cases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"missing key", func(r *http.Request) {}},
		{"wrong key", func(r *http.Request) {
			r.Header.Set("X-API-Key", "mk_ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
		}},
		{"malformed key", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer garbage")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/invoke/api-1", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != 401 {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}

	// Unauthorized attempts never reach the ledger.
	if got := len(s.ledger.All()); got != 0 {
		t.Errorf("ledger has %d records, want 0", got)
	}
}

func TestInvoke_InsufficientCredits(t *testing.T) {
	router, s := setupTestRouter(t)
	seedCaller(t, s, 1)
	seedWeatherAPI(t, s, 10, 5)

	req := httptest.NewRequest("POST", "/invoke/api-1", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 402 {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body apihttp.ErrorResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "insufficient_credits" {
		t.Errorf("code = %s, want insufficient_credits", body.Error.Code)
	}
}

func TestInvoke_RateLimited(t *testing.T) {
	router, s := setupTestRouter(t)
	seedCaller(t, s, 100)
	seedWeatherAPI(t, s, 1, 1)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/invoke/api-1", nil)
		req.Header.Set("X-API-Key", rawKey)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		switch i {
		case 0:
			if rec.Code != 200 {
				t.Fatalf("first call status = %d, want 200", rec.Code)
			}
		case 1:
			if rec.Code != 429 {
				t.Fatalf("second call status = %d, want 429", rec.Code)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After header")
			}
			if rec.Header().Get("X-RateLimit-Reset") == "" {
				t.Error("missing X-RateLimit-Reset header")
			}
		}
	}
}

func TestInvoke_UnknownAPI(t *testing.T) {
	router, s := setupTestRouter(t)
	seedCaller(t, s, 100)

	req := httptest.NewRequest("POST", "/invoke/nope", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestUsage_ReturnsCallerHistory(t *testing.T) {
	router, s := setupTestRouter(t)
	seedCaller(t, s, 100)
	seedWeatherAPI(t, s, 10, 2)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/invoke/api-1", nil)
		req.Header.Set("X-API-Key", rawKey)
		router.ServeHTTP(httptest.NewRecorder(), req)
		s.clock.Advance(time.Minute)
	}

	req := httptest.NewRequest("GET", "/usage?limit=2", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Calls []struct {
			APIID          string `json:"api_id"`
			APIName        string `json:"api_name"`
			Outcome        string `json:"outcome"`
			CreditsCharged int64  `json:"credits_charged"`
		} `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Calls) != 2 {
		t.Fatalf("got %d calls, want limit of 2", len(body.Calls))
	}
	if body.Calls[0].APIName != "Weather API" || body.Calls[0].CreditsCharged != 2 {
		t.Errorf("call = %+v, want joined Weather API charged 2", body.Calls[0])
	}
}

func TestUsageSummary(t *testing.T) {
	router, s := setupTestRouter(t)
	seedCaller(t, s, 100)
	seedWeatherAPI(t, s, 10, 2)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/invoke/api-1", nil)
		req.Header.Set("X-API-Key", rawKey)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest("GET", "/usage/summary?hours=24", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		TotalCalls   int64            `json:"total_calls"`
		CreditsSpent int64            `json:"credits_spent"`
		ByOutcome    map[string]int64 `json:"by_outcome"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TotalCalls != 2 || body.CreditsSpent != 4 {
		t.Errorf("summary = %+v, want 2 calls / 4 credits", body)
	}
	if body.ByOutcome["admitted"] != 2 {
		t.Errorf("admitted = %d, want 2", body.ByOutcome["admitted"])
	}
}

func TestCredits(t *testing.T) {
	router, s := setupTestRouter(t)
	seedCaller(t, s, 42)

	req := httptest.NewRequest("GET", "/credits", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		ProfileID string `json:"profile_id"`
		Credits   int64  `json:"credits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ProfileID != "user-1" || body.Credits != 42 {
		t.Errorf("body = %+v, want user-1 with 42", body)
	}
}

func TestHealthz_Unauthenticated(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
