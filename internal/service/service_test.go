package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/config"
	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/imagegen"
	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/repository"
	"github.com/digkill/photoremix/internal/storage"
	"github.com/digkill/photoremix/pkg/logger"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]storage.ObjectMeta
	data    map[string][]byte
	seq     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]storage.ObjectMeta{}, data: map[string][]byte{}}
}

func (s *fakeStore) add(handle, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[handle] = storage.ObjectMeta{ContentType: contentType, Size: int64(len(data))}
	s.data[handle] = data
}

func (s *fakeStore) remove(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, handle)
	delete(s.data, handle)
}

func (s *fakeStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	s.seq++
	handle := fmt.Sprintf("generated/%d", s.seq)
	s.mu.Unlock()
	s.add(handle, contentType, data)
	return handle, nil
}

func (s *fakeStore) Metadata(_ context.Context, handle string) (*storage.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.objects[handle]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

func (s *fakeStore) ReadURL(_ context.Context, handle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[handle]; !ok {
		return "", nil
	}
	return "https://store.test/" + handle, nil
}

func (s *fakeStore) Get(_ context.Context, handle string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[handle]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", handle, storage.ErrObjectNotFound)
	}
	return data, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req imagegen.Request) (*imagegen.Result, error)
}

func (g *fakeGenerator) Transform(ctx context.Context, req imagegen.Request) (*imagegen.Result, error) {
	g.mu.Lock()
	g.calls++
	fn := g.fn
	g.mu.Unlock()
	if fn == nil {
		return &imagegen.Result{Data: []byte("remixed"), MimeType: "image/png"}, nil
	}
	return fn(ctx, req)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *fakeQueue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *fakeQueue) Enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (n *fakeNotifier) GenerationCompleted(_ context.Context, original, _ *models.Asset) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, original.ID)
}

func (n *fakeNotifier) GenerationFailed(_ context.Context, original *models.Asset) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, original.ID)
}

type fakeProvider struct {
	mu       sync.Mutex
	requests []billing.CheckoutRequest
	err      error
}

func (p *fakeProvider) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &billing.CheckoutResult{SessionID: "cs_test_" + req.ReferenceID, URL: "https://checkout.test/" + req.ReferenceID}, nil
}

type harness struct {
	cfg       config.Config
	db        *database.DB
	assets    *repository.AssetRepository
	accounts  *repository.AccountRepository
	payments  *repository.PaymentRepository
	ledger    *Ledger
	settings  *SettingsService
	store     *fakeStore
	generator *fakeGenerator
	queue     *fakeQueue
	notifier  *fakeNotifier
	provider  *fakeProvider

	generations *GenerationService
	gallery     *GalleryService
	paymentsSvc *PaymentService
	checkout    *CheckoutService
}

func testConfig() config.Config {
	return config.Config{
		TransformInstruction: "remix it",
		MaxUploadBytes:       3 << 20,
		PackPriceMinor:       500,
		Currency:             "usd",
		CreditsPerPack:       10,
		RefundOnFailure:      true,
		StuckAfter:           15 * time.Minute,
	}
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db))

	log := logger.Discard()
	h := &harness{
		cfg:       cfg,
		db:        db,
		assets:    repository.NewAssetRepository(db),
		accounts:  repository.NewAccountRepository(db),
		payments:  repository.NewPaymentRepository(db),
		store:     newFakeStore(),
		generator: &fakeGenerator{},
		queue:     &fakeQueue{},
		notifier:  &fakeNotifier{},
		provider:  &fakeProvider{},
	}
	h.settings = NewSettingsService(cfg, repository.NewSettingsRepository(db))
	h.ledger = NewLedger(log, db, h.accounts)
	h.generations = NewGenerationService(cfg, log, db, h.assets, h.ledger, h.settings, h.store, h.generator, h.queue)
	h.generations.SetNotifier(h.notifier)
	h.gallery = NewGalleryService(log, h.assets, h.store)
	h.paymentsSvc = NewPaymentService(log, db, h.payments, h.accounts, h.ledger, h.settings)
	h.checkout = NewCheckoutService(log, repository.NewCheckoutRepository(db), h.ledger, h.settings, h.provider)
	return h
}

func (h *harness) fund(t *testing.T, identity string, credits int) {
	t.Helper()
	settings, err := h.settings.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = h.ledger.GrantCredits(context.Background(), settings, identity, credits)
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, identity string) int {
	t.Helper()
	acc, err := h.accounts.Get(context.Background(), identity)
	require.NoError(t, err)
	if acc == nil {
		return 0
	}
	return acc.Credits
}

func (h *harness) upload(handle string) string {
	h.store.add(handle, "image/jpeg", []byte("jpeg bytes"))
	return handle
}

func (h *harness) asset(t *testing.T, id string) *models.Asset {
	t.Helper()
	a, err := h.assets.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

// submitted funds identity with one credit and submits one upload.
func (h *harness) submitted(t *testing.T, identity string) *models.Asset {
	t.Helper()
	h.fund(t, identity, 1)
	a, err := h.generations.Submit(context.Background(), identity, SubmitRequest{Handle: h.upload("uploads/" + identity + ".jpg")})
	require.NoError(t, err)
	return a
}
