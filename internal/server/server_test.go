package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopphones/loop/internal/auth"
	"github.com/loopphones/loop/internal/ledger"
	"github.com/loopphones/loop/internal/model"
	"github.com/loopphones/loop/internal/ratelimit"
	"github.com/loopphones/loop/internal/server"
	"github.com/loopphones/loop/internal/service/analysis"
	"github.com/loopphones/loop/internal/service/grading"
	"github.com/loopphones/loop/internal/service/health"
	"github.com/loopphones/loop/internal/service/lifecycle"
	"github.com/loopphones/loop/internal/service/pricing"
	"github.com/loopphones/loop/internal/storage"
	"github.com/loopphones/loop/internal/testutil"
)

const (
	adminKey  = "test-admin-key-0123456789abcdef"
	ingestKey = "test-ingest-key-0123456789abcdef"
	readerKey = "test-reader-key-0123456789abcdef"
)

var (
	testSrv     *httptest.Server
	testDB      *storage.DB
	adminToken  string
	ingestToken string
	readerToken string
)

// quietDetector reports a clean device for every image set, keeping
// grading assertions deterministic.
type quietDetector struct{}

func (quietDetector) Detect(_ context.Context, _ []string) (model.DetectionSet, error) {
	return model.DetectionSet{}, nil
}

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		os.Exit(1)
	}

	jwtMgr, err := auth.NewJWTManager("", "", 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create JWT manager: %v\n", err)
		os.Exit(1)
	}

	grader := grading.NewEngine(quietDetector{}, logger)
	pricer := pricing.NewEngine(rand.New(rand.NewSource(1)))
	analysisSvc := analysis.New(testDB, health.NewHeuristic(), grader, pricer, 30, 30, logger)
	recorder := ledger.NewDevnetRecorder("devnet", logger)
	tracker := lifecycle.NewTracker(testDB, testDB, recorder, logger)
	limiter := ratelimit.New(logger)
	defer limiter.Close()

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		AnalysisSvc:         analysisSvc,
		Grader:              grader,
		Tracker:             tracker,
		Logger:              logger,
		Limiter:             limiter,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})

	if err := srv.Handlers().SeedAdmin(ctx, "admin", adminKey); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin: %v\n", err)
		os.Exit(1)
	}

	testSrv = httptest.NewServer(srv.Handler())
	defer testSrv.Close()

	adminToken = mustToken("admin", adminKey)
	mustCreateClient("ingest-test", model.RoleIngest, ingestKey)
	mustCreateClient("reader-test", model.RoleReader, readerKey)
	ingestToken = mustToken("ingest-test", ingestKey)
	readerToken = mustToken("reader-test", readerKey)

	os.Exit(m.Run())
}

// doJSON issues a request with optional bearer token and JSON body, returning
// the response and decoded envelope.
func doJSON(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, testSrv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := testSrv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	return resp, envelope
}

func dataField(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok, "expected data object in envelope: %v", envelope)
	return data
}

func mustToken(clientID, apiKey string) string {
	body, _ := json.Marshal(model.AuthTokenRequest{ClientID: clientID, APIKey: apiKey})
	resp, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("token request for %s failed: %d", clientID, resp.StatusCode))
	}
	var envelope struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		panic(err)
	}
	return envelope.Data.Token
}

func mustCreateClient(clientID string, role model.ClientRole, apiKey string) {
	body, _ := json.Marshal(model.CreateClientRequest{
		ClientID: clientID,
		Name:     clientID,
		Role:     role,
		APIKey:   apiKey,
	})
	req, _ := http.NewRequest(http.MethodPost, testSrv.URL+"/v1/clients", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		panic(fmt.Sprintf("create client %s failed: %d", clientID, resp.StatusCode))
	}
}

func registerDevice(t *testing.T, id string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, "/v1/devices", ingestToken, model.RegisterDeviceRequest{
		DeviceID:     id,
		Model:        "iPhone 14",
		Manufacturer: "Apple",
		PurchaseDate: "2024-06-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	resp, envelope := doJSON(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := dataField(t, envelope)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, "connected", data["postgres"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAuthTokenInvalidCredentials(t *testing.T) {
	resp, envelope := doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		ClientID: "admin",
		APIKey:   "wrong-key",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errObj := envelope["error"].(map[string]any)
	assert.Equal(t, model.ErrCodeUnauthorized, errObj["code"])
}

func TestAuthTokenUnknownClient(t *testing.T) {
	resp, _ := doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		ClientID: "nobody",
		APIKey:   "whatever-key-123456",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	resp, envelope := doJSON(t, http.MethodGet, "/v1/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errObj := envelope["error"].(map[string]any)
	assert.Equal(t, model.ErrCodeUnauthorized, errObj["code"])
}

func TestRegisterDevice(t *testing.T) {
	resp, envelope := doJSON(t, http.MethodPost, "/v1/devices", ingestToken, model.RegisterDeviceRequest{
		DeviceID:     "srv-reg-001",
		Model:        "Galaxy S22",
		Manufacturer: "Samsung",
		PurchaseDate: "2023-11-15",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := dataField(t, envelope)
	assert.Equal(t, "srv-reg-001", data["device_id"])
	assert.Equal(t, string(model.StatusActive), data["status"])

	// Duplicate registration conflicts.
	resp, envelope = doJSON(t, http.MethodPost, "/v1/devices", ingestToken, model.RegisterDeviceRequest{
		DeviceID:     "srv-reg-001",
		Model:        "Galaxy S22",
		Manufacturer: "Samsung",
		PurchaseDate: "2023-11-15",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errObj := envelope["error"].(map[string]any)
	assert.Equal(t, model.ErrCodeConflict, errObj["code"])
}

func TestRegisterDeviceValidation(t *testing.T) {
	tests := []struct {
		name string
		req  model.RegisterDeviceRequest
	}{
		{"bad device id", model.RegisterDeviceRequest{DeviceID: "bad id!", Model: "X", Manufacturer: "Y", PurchaseDate: "2024-01-01"}},
		{"missing model", model.RegisterDeviceRequest{DeviceID: "srv-val-001", Manufacturer: "Y", PurchaseDate: "2024-01-01"}},
		{"bad date", model.RegisterDeviceRequest{DeviceID: "srv-val-002", Model: "X", Manufacturer: "Y", PurchaseDate: "soon"}},
		{"future date", model.RegisterDeviceRequest{DeviceID: "srv-val-003", Model: "X", Manufacturer: "Y", PurchaseDate: "2999-01-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, "/v1/devices", ingestToken, tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestReaderCannotWrite(t *testing.T) {
	resp, envelope := doJSON(t, http.MethodPost, "/v1/devices", readerToken, model.RegisterDeviceRequest{
		DeviceID:     "srv-forbidden-001",
		Model:        "X",
		Manufacturer: "Y",
		PurchaseDate: "2024-01-01",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	errObj := envelope["error"].(map[string]any)
	assert.Equal(t, model.ErrCodeForbidden, errObj["code"])
}

func TestIngestCannotDelete(t *testing.T) {
	resp, _ := doJSON(t, http.MethodDelete, "/v1/devices/srv-reg-001", ingestToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGetAndDeleteDevice(t *testing.T) {
	registerDevice(t, "srv-del-001")

	resp, envelope := doJSON(t, http.MethodGet, "/v1/devices/srv-del-001", readerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "srv-del-001", dataField(t, envelope)["device_id"])

	resp, _ = doJSON(t, http.MethodDelete, "/v1/devices/srv-del-001", adminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, "/v1/devices/srv-del-001", readerToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTelemetryIngestAndLatest(t *testing.T) {
	registerDevice(t, "srv-tel-001")

	resp, envelope := doJSON(t, http.MethodPost, "/v1/telemetry", ingestToken, model.IngestTelemetryRequest{
		DeviceID:           "srv-tel-001",
		BatteryCycleCount:  412,
		BatteryHealthPct:   88.5,
		BatteryTemperature: 31.2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := dataField(t, envelope)
	assert.NotNil(t, data["predicted_rul_days"], "ingest annotates the snapshot with a prediction")
	assert.NotNil(t, data["failure_probability"])

	resp, envelope = doJSON(t, http.MethodGet, "/v1/devices/srv-tel-001/telemetry/latest", readerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 88.5, dataField(t, envelope)["battery_health_pct"].(float64), 1e-9)
}

func TestTelemetryUnknownDevice(t *testing.T) {
	resp, _ := doJSON(t, http.MethodPost, "/v1/telemetry", ingestToken, model.IngestTelemetryRequest{
		DeviceID:         "srv-ghost",
		BatteryHealthPct: 90,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGradeDeviceFlipsStatus(t *testing.T) {
	registerDevice(t, "srv-grade-001")

	resp, envelope := doJSON(t, http.MethodPost, "/v1/gradings", ingestToken, model.GradeDeviceRequest{
		DeviceID:  "srv-grade-001",
		ImageURLs: []string{"https://images.example.com/srv-grade-001/front.jpg"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := dataField(t, envelope)
	assert.Equal(t, string(model.GradeExcellent), data["grade"], "clean detector reports zero defects")

	resp, envelope = doJSON(t, http.MethodGet, "/v1/devices/srv-grade-001", readerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(model.StatusGraded), dataField(t, envelope)["status"])
}

func TestGradeDeviceRejectsPrivateImageURL(t *testing.T) {
	registerDevice(t, "srv-grade-002")

	resp, _ := doJSON(t, http.MethodPost, "/v1/gradings", ingestToken, model.GradeDeviceRequest{
		DeviceID:  "srv-grade-002",
		ImageURLs: []string{"http://169.254.169.254/latest/meta-data"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPassportLifecycle(t *testing.T) {
	registerDevice(t, "srv-pass-001")

	resp, envelope := doJSON(t, http.MethodPost, "/v1/passports", ingestToken, model.CreatePassportRequest{
		DeviceID:     "srv-pass-001",
		OwnerAddress: "owner-wallet-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := dataField(t, envelope)
	assert.Equal(t, "PASS-srv-pass-001", data["passport_id"])
	assert.EqualValues(t, 70, data["circularity_score"], "freshly minted passports start at the base score")

	// One passport per device.
	resp, _ = doJSON(t, http.MethodPost, "/v1/passports", ingestToken, model.CreatePassportRequest{
		DeviceID:     "srv-pass-001",
		OwnerAddress: "owner-wallet-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Record a repair event; counters and scores move.
	resp, envelope = doJSON(t, http.MethodPost, "/v1/passports/PASS-srv-pass-001/events", ingestToken, model.RecordEventRequest{
		EventType:   model.EventRepair,
		Description: "battery replaced",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data = dataField(t, envelope)
	assert.EqualValues(t, 1, data["total_repairs"])
	assert.NotEmpty(t, data["mint_address"])

	// Fetch by device.
	resp, envelope = doJSON(t, http.MethodGet, "/v1/devices/srv-pass-001/passport", readerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PASS-srv-pass-001", dataField(t, envelope)["passport_id"])
}

func TestPassportUnknownDevice(t *testing.T) {
	resp, _ := doJSON(t, http.MethodPost, "/v1/passports", ingestToken, model.CreatePassportRequest{
		DeviceID:     "srv-ghost",
		OwnerAddress: "owner-wallet-1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFullAnalysis(t *testing.T) {
	registerDevice(t, "srv-ana-001")

	resp, envelope := doJSON(t, http.MethodPost, "/v1/analysis/srv-ana-001", ingestToken, model.AnalyzeRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := dataField(t, envelope)

	hp := data["health_prediction"].(map[string]any)
	assert.EqualValues(t, 365, hp["predicted_rul_days"], "no telemetry yields the default prediction")

	grading := data["grading"].(map[string]any)
	assert.Equal(t, string(model.GradeGood), grading["grade"], "no images yields the neutral default")

	require.NotNil(t, data["price_estimate"])
	recs := data["recommendations"].(map[string]any)
	assert.Equal(t, "continue_monitoring", recs["primary_action"])
	assert.Equal(t, false, recs["action_required"])
}

func TestAnalysisHealthView(t *testing.T) {
	registerDevice(t, "srv-ana-002")

	resp, envelope := doJSON(t, http.MethodGet, "/v1/analysis/srv-ana-002/health", readerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := dataField(t, envelope)
	hp := data["health_prediction"].(map[string]any)
	assert.EqualValues(t, 365, hp["predicted_rul_days"])
}

func TestAnalysisUnknownDevice(t *testing.T) {
	resp, _ := doJSON(t, http.MethodPost, "/v1/analysis/srv-ghost", ingestToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStats(t *testing.T) {
	resp, envelope := doJSON(t, http.MethodGet, "/v1/stats", readerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := dataField(t, envelope)
	assert.GreaterOrEqual(t, data["total_devices"].(float64), 1.0)
}

func TestListDevicesPagination(t *testing.T) {
	registerDevice(t, "srv-list-001")
	registerDevice(t, "srv-list-002")

	req, err := http.NewRequest(http.MethodGet, testSrv.URL+"/v1/devices?limit=1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+readerToken)
	raw, err := testSrv.Client().Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	require.Equal(t, http.StatusOK, raw.StatusCode)

	var list model.ListResponse
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&list))
	assert.Equal(t, 1, list.Limit)
	assert.True(t, list.HasMore)
	require.NotNil(t, list.Total)
	assert.GreaterOrEqual(t, *list.Total, 2)
}

func TestRateLimitHeaders(t *testing.T) {
	registerDevice(t, "srv-rl-001")

	req, err := http.NewRequest(http.MethodGet, testSrv.URL+"/v1/devices/srv-rl-001", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+readerToken)
	resp, err := testSrv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
}

func TestAdminExemptFromRateLimit(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, testSrv.URL+"/v1/devices", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := testSrv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"), "admin requests bypass rate limiting")
}

func TestAuthTokenRateLimitExceeded(t *testing.T) {
	// The token endpoint is IP-keyed at 10 requests per minute. Hammering it
	// past the budget must return 429 with the standard error envelope,
	// rate-limit headers, and a Retry-After hint.
	var (
		resp     *http.Response
		envelope map[string]any
	)
	for i := 0; i < 15; i++ {
		resp, envelope = doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
			ClientID: "nobody",
			APIKey:   "definitely-wrong-key",
		})
		if resp.StatusCode == http.StatusTooManyRequests {
			break
		}
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	errObj := envelope["error"].(map[string]any)
	assert.Equal(t, model.ErrCodeRateLimited, errObj["code"])
	meta := envelope["meta"].(map[string]any)
	assert.NotEmpty(t, meta["request_id"])

	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
}
