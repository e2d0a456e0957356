package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/config"
	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/imagegen"
	"github.com/digkill/photoremix/internal/repository"
	"github.com/digkill/photoremix/internal/service"
	"github.com/digkill/photoremix/internal/storage"
	"github.com/digkill/photoremix/pkg/logger"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testWebhookSecret = "whsec_api_test"
)

type memStore struct {
	mu      sync.Mutex
	seq     int
	objects map[string][]byte
	types   map[string]string
}

func (m *memStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	handle := fmt.Sprintf("photos/%d", m.seq)
	m.objects[handle] = data
	m.types[handle] = contentType
	return handle, nil
}

func (m *memStore) Metadata(_ context.Context, handle string) (*storage.ObjectMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[handle]
	if !ok {
		return nil, nil
	}
	return &storage.ObjectMeta{ContentType: m.types[handle], Size: int64(len(data))}, nil
}

func (m *memStore) ReadURL(_ context.Context, handle string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[handle]; !ok {
		return "", nil
	}
	return "https://cdn.test/" + handle, nil
}

func (m *memStore) Get(_ context.Context, handle string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[handle]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

type stubGenerator struct{}

func (stubGenerator) Transform(context.Context, imagegen.Request) (*imagegen.Result, error) {
	return &imagegen.Result{Data: []byte("png"), MimeType: "image/png"}, nil
}

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, string) error { return nil }

type stubProvider struct{}

func (stubProvider) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error) {
	return &billing.CheckoutResult{SessionID: "cs_" + req.ReferenceID, URL: "https://pay.test/" + req.ReferenceID}, nil
}

type testEnv struct {
	server   *Server
	store    *memStore
	svc      Services
	accounts *repository.AccountRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db))

	cfg := config.Config{
		TransformInstruction: "remix",
		MaxUploadBytes:       1 << 20,
		PackPriceMinor:       500,
		Currency:             "usd",
		CreditsPerPack:       10,
		RefundOnFailure:      true,
		StuckAfter:           time.Minute,
	}
	log := logger.Discard()
	store := &memStore{objects: map[string][]byte{}, types: map[string]string{}}

	assets := repository.NewAssetRepository(db)
	accounts := repository.NewAccountRepository(db)
	settings := service.NewSettingsService(cfg, repository.NewSettingsRepository(db))
	ledger := service.NewLedger(log, db, accounts)
	svc := Services{
		Generations: service.NewGenerationService(cfg, log, db, assets, ledger, settings, store, stubGenerator{}, nopQueue{}),
		Gallery:     service.NewGalleryService(log, assets, store),
		Payments:    service.NewPaymentService(log, db, repository.NewPaymentRepository(db), accounts, ledger, settings),
		Checkout:    service.NewCheckoutService(log, repository.NewCheckoutRepository(db), ledger, settings, stubProvider{}),
		Ledger:      ledger,
		Settings:    settings,
		Stripe:      billing.NewStripe(billing.StripeConfig{WebhookSecret: testWebhookSecret}),
	}
	srv := NewServer(Options{JWTSecret: testJWTSecret, AllowedOrigins: []string{"*"}, MaxUploadBytes: cfg.MaxUploadBytes}, log, svc)
	return &testEnv{server: srv, store: store, svc: svc, accounts: accounts}
}

func (e *testEnv) do(t *testing.T, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		token, err := NewToken(testJWTSecret, identity, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) fund(t *testing.T, identity string, credits int) {
	t.Helper()
	ctx := context.Background()
	settings, err := e.svc.Settings.Snapshot(ctx)
	require.NoError(t, err)
	_, err = e.svc.Ledger.GrantCredits(ctx, settings, identity, credits)
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, identity string) int {
	t.Helper()
	acc, err := e.accounts.Get(context.Background(), identity)
	require.NoError(t, err)
	if acc == nil {
		return 0
	}
	return acc.Credits
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
	forged, err := NewToken("other-secret", "alice", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/account", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acc := decodeBody[accountResponse](t, rec)
	assert.Equal(t, "alice", acc.Identity)
	assert.Zero(t, acc.Credits)
}

func TestSubmitFlow(t *testing.T) {
	env := newTestEnv(t)
	handle, err := env.store.Put(context.Background(), []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/v1/transformations", "alice", submitRequest{Handle: handle})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/transformations", "alice", submitRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/transformations", "alice", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.fund(t, "alice", 1)
	rec = env.do(t, http.MethodPost, "/v1/transformations", "alice", submitRequest{Handle: handle, Width: 10, Height: 10})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	view := decodeBody[service.AssetView](t, rec)
	assert.Equal(t, "pending", view.Status)
	assert.Equal(t, "https://cdn.test/"+handle, view.URL)
	assert.Equal(t, 0, env.balance(t, "alice"))

	rec = env.do(t, http.MethodGet, "/v1/assets/"+view.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/assets/"+view.ID+"/retry", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.svc.Generations.Execute(context.Background(), view.ID)

	rec = env.do(t, http.MethodGet, "/v1/assets", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[listResponse[service.AssetView]](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "completed", list.Items[0].Status)
	require.NotNil(t, list.Items[0].Generated)
	assert.NotEmpty(t, list.Items[0].Generated.URL)
}

func TestUploadMultipart(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="me.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n rest"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	token, err := NewToken(testJWTSecret, "alice", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody[map[string]string](t, rec)
	meta, err := env.store.Metadata(context.Background(), body["handle"])
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "image/png", meta.ContentType)

	rec = env.do(t, http.MethodPost, "/v1/uploads", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGalleryAndShare(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "alice", 1)
	handle, err := env.store.Put(ctx, []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	asset, err := env.svc.Generations.Submit(ctx, "alice", service.SubmitRequest{Handle: handle})
	require.NoError(t, err)
	env.svc.Generations.Execute(ctx, asset.ID)

	featured := true
	rec := env.do(t, http.MethodPost, "/v1/assets/"+asset.ID+"/feature", "alice", featureRequest{Featured: &featured})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/gallery", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "alice")
	gallery := decodeBody[listResponse[service.PublicAssetView]](t, rec)
	require.Len(t, gallery.Items, 1)

	rec = env.do(t, http.MethodGet, "/v1/share/"+asset.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, "/v1/assets/"+asset.ID+"/sharing", "alice", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[sharingResponse](t, rec).SharingEnabled)

	rec = env.do(t, http.MethodGet, "/v1/share/"+asset.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/share/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/assets/"+asset.ID+"/feature", "alice", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/checkout", "alice", checkoutRequest{Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/checkout", "alice", checkoutRequest{Quantity: 2})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decodeBody[checkoutResponse](t, rec)
	assert.Equal(t, "pending", started.Status)

	env.svc.Checkout.Wait()

	rec = env.do(t, http.MethodGet, "/v1/checkout/"+started.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[checkoutResponse](t, rec)
	assert.Equal(t, "completed", got.Status)
	assert.True(t, strings.HasPrefix(got.URL, "https://pay.test/"))

	rec = env.do(t, http.MethodGet, "/v1/checkout/"+started.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
