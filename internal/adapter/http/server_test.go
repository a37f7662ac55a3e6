package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signato/signato/internal/adapter/http/response"
	"github.com/signato/signato/internal/adapter/memory"
	"github.com/signato/signato/internal/auth"
	"github.com/signato/signato/internal/compose"
	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/lock"
	"github.com/signato/signato/internal/ratelimit"
	"github.com/signato/signato/internal/token"
	"github.com/signato/signato/internal/usecase"
)

type testServer struct {
	handler    http.Handler
	jwtService *auth.JWTService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	clock := memory.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	recipients := memory.NewRecipientRepository()
	docs := memory.NewDocumentRepository(recipients)
	fields := memory.NewFieldRepository()
	auditLog := memory.NewAuditRepository()
	store := memory.NewArtifactStore()
	publisher := memory.NewChannelPublisher()
	locks := lock.NewKeyed()
	inspector := memory.NewInspector(2)

	composer := compose.NewComposer(docs, recipients, fields, auditLog, store, inspector, memory.NewRenderer(), publisher, locks, clock, log)
	runner := compose.NewRunner(composer, docs, compose.RunnerConfig{
		Workers:     2,
		MaxAttempts: 3,
		BaseBackoff: 5 * time.Millisecond,
		JobTimeout:  time.Second,
	}, log)
	runner.Start()
	t.Cleanup(runner.Stop)

	guard := token.NewGuard(recipients, clock)
	issuerUC := usecase.NewIssuerUseCase(docs, recipients, fields, auditLog, store, inspector, publisher, runner, locks, clock, 72*time.Hour, log)
	signingUC := usecase.NewSigningUseCase(docs, recipients, fields, auditLog, store, publisher, runner, guard, locks, clock, log)

	jwtService := auth.NewJWTService("test-secret", time.Hour)
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{Enabled: false}, log)
	require.NoError(t, err)

	srv := NewServer(ServerConfig{
		Port:           "0",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    5 * time.Second,
		CORSOrigin:     "*",
		MaxUploadBytes: 1 << 20,
	}, issuerUC, signingUC, jwtService, limiter, log)

	return &testServer{handler: srv.Handler(), jwtService: jwtService}
}

func (ts *testServer) accessToken(t *testing.T, issuerID string) string {
	t.Helper()
	tok, err := ts.jwtService.GenerateAccessToken(issuerID)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, accessToken string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Status  bool            `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Status, "expected success envelope, got %q", envelope.Message)
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIssuerRoutesRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/documents", "", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/documents", "not-a-jwt", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateDocument(t *testing.T) {
	ts := newTestServer(t)
	access := ts.accessToken(t, "issuer-1")

	rec := ts.do(t, http.MethodPost, "/api/v1/documents", access, map[string]interface{}{
		"title": "Lease Agreement",
		"pdf":   []byte("%PDF-1.7 test source"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc domain.Document
	decodeData(t, rec, &doc)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "issuer-1", doc.IssuerID)
	assert.Equal(t, domain.DocumentStatusDraft, doc.Status)
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	access := ts.accessToken(t, "issuer-1")

	var doc domain.Document
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", access, map[string]interface{}{
		"title": "Offer Letter",
		"pdf":   []byte("%PDF-1.7 test source"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, rec, &doc)

	var recip domain.Recipient
	rec = ts.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/recipients", access, map[string]interface{}{
		"email":         "alice@example.com",
		"signing_order": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, rec, &recip)

	var defs []*domain.FieldDefinition
	rec = ts.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/fields", access, map[string]interface{}{
		"fields": []usecase.FieldSpec{
			{Type: domain.FieldTypeSignature, Page: 0, X: 0.1, Y: 0.8, Width: 0.3, Height: 0.05, Required: true},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, rec, &defs)
	require.Len(t, defs, 1)

	rec = ts.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/fields/"+defs[0].ID+"/assign", access, map[string]string{
		"recipient_id": recip.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var sent usecase.SendResponse
	rec = ts.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/send", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &sent)
	require.Len(t, sent.Links, 1)
	signToken := sent.Links[0].Token
	require.NotEmpty(t, signToken)

	var view usecase.ViewResponse
	rec = ts.do(t, http.MethodGet, "/api/v1/sign/"+signToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &view)
	assert.Equal(t, doc.ID, view.DocumentID)
	assert.True(t, view.TierUnlocked)
	require.Len(t, view.Fields, 1)

	rec = ts.do(t, http.MethodPost, "/api/v1/sign/"+signToken+"/fields/"+defs[0].ID, "", map[string]interface{}{
		"value": domain.FieldValue{Kind: domain.FieldTypeSignature},
		"image": []byte("signature strokes"),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/sign/"+signToken+"/complete", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		var status usecase.StatusResponse
		rec := ts.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/status", access, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		decodeData(t, rec, &status)
		return status.Document.Status == domain.DocumentStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	var entries []*domain.AuditEntry
	rec = ts.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/audit", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &entries)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.AuditActionCreated, entries[0].Action)
	assert.Equal(t, domain.AuditActionComposed, entries[len(entries)-1].Action)

	// the used link is revoked once the document completes
	rec = ts.do(t, http.MethodGet, "/api/v1/sign/"+signToken, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no longer valid")
}

func TestSendWithoutRecipientsMapsToUnprocessable(t *testing.T) {
	ts := newTestServer(t)
	access := ts.accessToken(t, "issuer-1")

	var doc domain.Document
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", access, map[string]interface{}{
		"title": "Empty",
		"pdf":   []byte("%PDF-1.7 test source"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, rec, &doc)

	rec = ts.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/send", access, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least one recipient")
}

func TestIssuerIsolation(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.accessToken(t, "issuer-1")
	stranger := ts.accessToken(t, "issuer-2")

	var doc domain.Document
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", owner, map[string]interface{}{
		"title": "Private",
		"pdf":   []byte("%PDF-1.7 test source"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, rec, &doc)

	rec = ts.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/status", stranger, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownSigningTokenIsGeneric(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/sign/definitely-not-a-token", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no longer valid")
	// the body never says whether the token is unknown, expired, or revoked
	assert.NotContains(t, rec.Body.String(), "expired")
	assert.NotContains(t, rec.Body.String(), "revoked")
}

func TestEnvelopeEchoesCorrelationID(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sign/definitely-not-a-token", nil)
	req.Header.Set(response.CorrelationIDHeader, "cid-12345")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "cid-12345", rec.Header().Get(response.CorrelationIDHeader))

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "cid-12345", envelope.CorrelationID)

	// a generated id still lands in the body
	rec = ts.do(t, http.MethodGet, "/api/v1/sign/definitely-not-a-token", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.CorrelationID)
	assert.Equal(t, rec.Header().Get(response.CorrelationIDHeader), envelope.CorrelationID)
}

func TestDiscardDraft(t *testing.T) {
	ts := newTestServer(t)
	access := ts.accessToken(t, "issuer-1")

	var doc domain.Document
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", access, map[string]interface{}{
		"title": "Scratch",
		"pdf":   []byte("%PDF-1.7 test source"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, rec, &doc)

	rec = ts.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/status", access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
