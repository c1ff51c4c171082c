package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/troikatech/crm-voicebot/internal/analysis"
	"github.com/troikatech/crm-voicebot/internal/callcontext"
	"github.com/troikatech/crm-voicebot/pkg/ai"
	"github.com/troikatech/crm-voicebot/pkg/env"
	"github.com/troikatech/crm-voicebot/pkg/exotel"
	"github.com/troikatech/crm-voicebot/pkg/logger"
	"github.com/troikatech/crm-voicebot/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()
}

type stubDialer struct {
	connectReq  *exotel.ConnectCallRequest
	connectResp *exotel.ConnectCallResponse
	connectErr  error
	details     *exotel.CallDetails
	detailsErr  error
}

func (d *stubDialer) ConnectCall(ctx context.Context, req *exotel.ConnectCallRequest) (*exotel.ConnectCallResponse, error) {
	d.connectReq = req
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return d.connectResp, nil
}

func (d *stubDialer) GetCallDetails(ctx context.Context, callSID string) (*exotel.CallDetails, error) {
	if d.detailsErr != nil {
		return nil, d.detailsErr
	}
	return d.details, nil
}

// DownloadRecording makes the stub usable as the analysis pipeline's
// provider; the handler tests never reach it.
func (d *stubDialer) DownloadRecording(ctx context.Context, recordingURL, dir string) (string, error) {
	return "", assert.AnError
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
	return gormDB, mock, teardown
}

func testConfig() *env.Config {
	return &env.Config{
		ExotelAccountSID:    "troika1",
		ExotelAPIKey:        "key",
		ExotelAPIToken:      "token",
		ExotelExophone:      "08069451234",
		ExotelAppID:         "987654",
		OpenAIApiKey:        "sk-test",
		ElevenLabsApiKey:    "el-test",
		VoicebotBaseURL:     "https://bot.example.com",
		DefaultLanguage:     "hindi",
		ExotelWebhookSecret: "",
	}
}

func newTestHandler(t *testing.T, dialer Dialer) (*Handler, sqlmock.Sqlmock, func()) {
	gormDB, mock, teardown := newMockDB(t)

	contextStore := callcontext.NewStore(gormDB, zap.NewNop())
	analysisStore := analysis.NewStore(gormDB)
	analysisService := analysis.NewService(analysisStore, dialer.(analysis.CallProvider), nil, nil, nil, nil, analysis.Config{TmpDir: t.TempDir()}, zap.NewNop())
	aiManager := ai.NewManager(nil, zap.NewNop())

	h := NewHandler(testConfig(), nil, contextStore, analysisStore, analysisService, dialer, aiManager, nil, nil)
	return h, mock, teardown
}

func performJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartCall_MissingPhoneNumber(t *testing.T) {
	h, _, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	r := gin.New()
	r.POST("/start", h.StartCall)

	w := performJSON(r, http.MethodPost, "/start", gin.H{
		"dialout_settings": gin.H{"app_name": "LuckyPlay"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartCall_InvalidPhoneNumber(t *testing.T) {
	h, _, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	r := gin.New()
	r.POST("/start", h.StartCall)

	w := performJSON(r, http.MethodPost, "/start", gin.H{
		"dialout_settings": gin.H{"phone_number": "+1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartCall_PersistsContextAndResponds(t *testing.T) {
	dialer := &stubDialer{
		connectResp: &exotel.ConnectCallResponse{SID: "CA123", Status: "in-progress"},
	}
	h, mock, teardown := newTestHandler(t, dialer)
	defer teardown()

	mock.ExpectExec(`INSERT INTO "call_contexts" .* ON CONFLICT \("call_sid"\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := gin.New()
	r.POST("/start", h.StartCall)

	w := performJSON(r, http.MethodPost, "/start", gin.H{
		"dialout_settings": gin.H{
			"phone_number": "09123456789",
			"app_name":     "LuckyPlay",
			"reason":       "inactive for 30 days",
			"language":     "tamil",
			"client_name":  "Ramesh",
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp StartCallResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "call_initiated", resp.Status)
	assert.Equal(t, "CA123", resp.CallID)
	assert.Equal(t, "+919123456789", resp.PhoneNumber)
	assert.Equal(t, "tamil", resp.CallContext.Language)
	assert.True(t, resp.CallContext.IsActive)

	require.NotNil(t, dialer.connectReq)
	assert.Equal(t, "+919123456789", dialer.connectReq.To)
	assert.Equal(t, "08069451234", dialer.connectReq.CallerID)
	assert.Equal(t, "987654", dialer.connectReq.AppID)
	assert.Equal(t, "https://bot.example.com/webhooks/exotel", dialer.connectReq.StatusCallback)
}

func TestStartCall_DefaultsLanguage(t *testing.T) {
	dialer := &stubDialer{
		connectResp: &exotel.ConnectCallResponse{SID: "CA124"},
	}
	h, mock, teardown := newTestHandler(t, dialer)
	defer teardown()

	mock.ExpectExec(`INSERT INTO "call_contexts"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := gin.New()
	r.POST("/start", h.StartCall)

	w := performJSON(r, http.MethodPost, "/start", gin.H{
		"dialout_settings": gin.H{"phone_number": "+919123456789"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp StartCallResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hindi", resp.CallContext.Language)
}

func TestStartCall_DialGateFailsOpenWhenRedisDown(t *testing.T) {
	dialer := &stubDialer{
		connectResp: &exotel.ConnectCallResponse{SID: "CA900"},
	}
	h, mock, teardown := newTestHandler(t, dialer)
	defer teardown()

	// Unreachable Redis: the dial gate must fail open, not block calls.
	h.dialLimiter = middleware.NewRateLimiter(
		redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), 1)

	mock.ExpectExec(`INSERT INTO "call_contexts"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := gin.New()
	r.POST("/start", h.StartCall)

	w := performJSON(r, http.MethodPost, "/start", gin.H{
		"dialout_settings": gin.H{"phone_number": "+919123456789"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, dialer.connectReq)
}

func TestStartCall_DialFailureSkipsContextWrite(t *testing.T) {
	dialer := &stubDialer{connectErr: assert.AnError}
	h, _, teardown := newTestHandler(t, dialer)
	defer teardown() // no sqlmock expectations: the context row must not be written

	r := gin.New()
	r.POST("/start", h.StartCall)

	w := performJSON(r, http.MethodPost, "/start", gin.H{
		"dialout_settings": gin.H{"phone_number": "+919123456789"},
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCheckCallStatus(t *testing.T) {
	dialer := &stubDialer{
		details: &exotel.CallDetails{
			SID:          "CA123",
			Status:       "completed",
			Direction:    "outbound-api",
			Duration:     "83",
			RecordingURL: "https://recordings.exotel.com/troika1/CA123.mp3",
		},
	}
	h, _, teardown := newTestHandler(t, dialer)
	defer teardown()

	r := gin.New()
	r.GET("/check_call_status", middleware.RequireSIDQuery(), h.CheckCallStatus)

	req := httptest.NewRequest(http.MethodGet, "/check_call_status?sid=CA123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "CA123", body["call_sid"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "83", body["duration"])
}

func TestCheckCallStatus_MissingSID(t *testing.T) {
	h, _, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	r := gin.New()
	r.GET("/check_call_status", middleware.RequireSIDQuery(), h.CheckCallStatus)

	req := httptest.NewRequest(http.MethodGet, "/check_call_status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCallAnalysis_NotFound(t *testing.T) {
	h, mock, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	mock.ExpectQuery(`SELECT \* FROM "call_analyses"`).
		WillReturnRows(sqlmock.NewRows([]string{"sid"}))

	r := gin.New()
	r.GET("/call_analysis", middleware.RequireSIDQuery(), h.GetCallAnalysis)

	req := httptest.NewRequest(http.MethodGet, "/call_analysis?sid=CA404", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCallAnalysis_ReturnsRow(t *testing.T) {
	h, mock, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	rows := sqlmock.NewRows([]string{"sid", "completed", "summary"}).
		AddRow("CA123", true, "customer asked about withdrawal")
	mock.ExpectQuery(`SELECT \* FROM "call_analyses" WHERE sid = `).
		WillReturnRows(rows)

	r := gin.New()
	r.GET("/call_analysis", middleware.RequireSIDQuery(), h.GetCallAnalysis)

	req := httptest.NewRequest(http.MethodGet, "/call_analysis?sid=CA123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var row analysis.CallAnalysis
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	assert.True(t, row.Completed)
	assert.Equal(t, "customer asked about withdrawal", row.Summary)
}

func TestProcessCall_MissingSID(t *testing.T) {
	h, _, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	r := gin.New()
	r.POST("/process-call", h.ProcessCall)

	w := performJSON(r, http.MethodPost, "/process-call", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessCall_CompletedShortCircuits(t *testing.T) {
	h, mock, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	rows := sqlmock.NewRows([]string{"sid", "completed", "summary"}).
		AddRow("CA123", true, "done")
	mock.ExpectQuery(`SELECT \* FROM "call_analyses" WHERE sid = `).
		WillReturnRows(rows)

	r := gin.New()
	r.POST("/process-call", h.ProcessCall)

	w := performJSON(r, http.MethodPost, "/process-call", gin.H{"call_sid": "CA123"})
	require.Equal(t, http.StatusOK, w.Code)

	var report analysis.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, analysis.ReportCompleted, report.Status)
	assert.NotNil(t, report.Data)
}

func TestProcessCall_RecordingNotReady(t *testing.T) {
	dialer := &stubDialer{
		details: &exotel.CallDetails{SID: "CA123", Status: "completed", RecordingURL: ""},
	}
	h, mock, teardown := newTestHandler(t, dialer)
	defer teardown()

	mock.ExpectQuery(`SELECT \* FROM "call_analyses"`).
		WillReturnRows(sqlmock.NewRows([]string{"sid"}))

	r := gin.New()
	r.POST("/process-call", h.ProcessCall)

	w := performJSON(r, http.MethodPost, "/process-call", gin.H{"call_sid": "CA123"})
	require.Equal(t, http.StatusOK, w.Code)

	var report analysis.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, analysis.ReportRecordingNotYet, report.Status)
}

func TestHealthCheck_MissingCredentials(t *testing.T) {
	h, _, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()
	h.cfg.OpenAIApiKey = ""
	h.cfg.ElevenLabsApiKey = ""

	r := gin.New()
	r.GET("/health", h.HealthCheck)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Missing, "OPENAI_API_KEY")
	assert.Contains(t, resp.Missing, "ELEVENLABS_API_KEY")
}

func TestExotelWebhook_RejectsBadSignature(t *testing.T) {
	h, _, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()
	h.cfg.ExotelWebhookSecret = "topsecret"

	r := gin.New()
	r.POST("/webhooks/exotel", h.ExotelWebhook)

	form := url.Values{"CallSid": {"CA123"}, "Status": {"completed"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/exotel", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Exotel-Signature", "forged")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExotelWebhook_TerminalStatusDeactivatesContext(t *testing.T) {
	h, mock, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	mock.ExpectExec(`UPDATE "call_contexts" SET .*"is_active"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "call_analyses" SET .*"call_status"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := gin.New()
	r.POST("/webhooks/exotel", h.ExotelWebhook)

	form := url.Values{
		"CallSid":  {"CA123"},
		"Status":   {"completed"},
		"Duration": {"83"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/exotel", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExotelWebhook_IntermediateStatusLeavesContext(t *testing.T) {
	h, _, teardown := newTestHandler(t, &stubDialer{})
	defer teardown() // no UPDATE expected for a ringing call

	r := gin.New()
	r.POST("/webhooks/exotel", h.ExotelWebhook)

	form := url.Values{"CallSid": {"CA123"}, "Status": {"ringing"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/exotel", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExotelWebhook_MissingCallSid(t *testing.T) {
	h, _, teardown := newTestHandler(t, &stubDialer{})
	defer teardown()

	r := gin.New()
	r.POST("/webhooks/exotel", h.ExotelWebhook)

	form := url.Values{"Status": {"completed"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/exotel", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
