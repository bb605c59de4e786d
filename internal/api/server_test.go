package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/org/deaddrop/internal/notify"
	"github.com/org/deaddrop/internal/storage"
	"github.com/org/deaddrop/pkg/models"
)

// --- In-memory collaborators for tests ---

type memStore struct {
	drops map[string]*models.Drop
}

func newMemStore() *memStore {
	return &memStore{drops: map[string]*models.Drop{}}
}

func (m *memStore) CreateDrop(ctx context.Context, d *models.Drop) error {
	if _, ok := m.drops[d.ID]; ok {
		return storage.ErrAlreadyExists
	}
	cp := *d
	m.drops[d.ID] = &cp
	return nil
}

func (m *memStore) GetDrop(ctx context.Context, id string) (*models.Drop, error) {
	if d, ok := m.drops[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetDropByVerifyToken(ctx context.Context, token string) (*models.Drop, error) {
	for _, d := range m.drops {
		if d.VerifyToken == token {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetDropByCheckinToken(ctx context.Context, token string) (*models.Drop, error) {
	for _, d := range m.drops {
		if d.CheckinToken == token {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListActiveDrops(ctx context.Context) ([]*models.Drop, error) {
	var out []*models.Drop
	for _, d := range m.drops {
		if d.Status == models.StatusActive {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) MarkVerified(ctx context.Context, id string, now, releaseAt time.Time) error {
	d, ok := m.drops[id]
	if !ok || d.Status != models.StatusPendingVerification {
		return storage.ErrNotFound
	}
	d.Status = models.StatusActive
	d.VerifiedAt = &now
	d.LastCheckinAt = now
	d.ReleaseAt = releaseAt
	return nil
}

func (m *memStore) RecordCheckin(ctx context.Context, id string, now, releaseAt time.Time) error {
	d, ok := m.drops[id]
	if !ok || d.Status != models.StatusActive {
		return storage.ErrNotFound
	}
	d.LastCheckinAt = now
	d.ReleaseAt = releaseAt
	d.LastCheckinSentAt = nil
	return nil
}

func (m *memStore) MarkReminderSent(ctx context.Context, id string, now time.Time) error {
	d, ok := m.drops[id]
	if !ok {
		return storage.ErrNotFound
	}
	d.LastCheckinSentAt = &now
	return nil
}

func (m *memStore) ReleaseDrop(ctx context.Context, id string, now time.Time) (bool, error) {
	d, ok := m.drops[id]
	if !ok || d.Status != models.StatusActive {
		return false, nil
	}
	d.Status = models.StatusReleased
	d.ReleasedAt = &now
	return true, nil
}

func (m *memStore) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	counts := map[models.Status]int64{}
	for _, d := range m.drops {
		counts[d.Status]++
	}
	return counts, nil
}

func (m *memStore) Close() {}

type memBlob struct {
	objects map[string][]byte
}

func (b *memBlob) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.objects[key] = data
	return nil
}

func (b *memBlob) PresignGet(ctx context.Context, key string, lifetime time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

type memNotifier struct {
	sent []notify.Message
}

func (n *memNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.sent = append(n.sent, msg)
	return nil
}

// --- test helpers ---

func newTestServer(cronSecret string) (*Server, *memStore, *memNotifier) {
	store := newMemStore()
	blobs := &memBlob{objects: map[string][]byte{}}
	notifier := &memNotifier{}
	srv := NewServer(store, blobs, notifier, Config{
		ListenAddr: ":0",
		BaseURL:    "https://drop.test",
		CronSecret: cronSecret,
	})
	return srv, store, notifier
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func createBody() map[string]any {
	return map[string]any{
		"owner_email":           "owner@example.com",
		"recipient_email":       "heir@example.com",
		"passphrase_hint":       "you know it",
		"checkin_interval_days": 30,
		"grace_days":            7,
		"encrypted_payload":     `{"v":1,"salt":"x","iv":"y","ciphertext":"z","filename":null,"mimeType":null,"isText":true}`,
		"payload_hash":          "deadbeef",
	}
}

func createDrop(t *testing.T, handler http.Handler, store *memStore) *models.Drop {
	t.Helper()
	w := postJSON(t, handler, "/v1/create", createBody(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	id := body["id"].(string)
	drop, err := store.GetDrop(context.Background(), id)
	if err != nil {
		t.Fatalf("created drop not in store: %v", err)
	}
	return drop
}

// --- tests ---

func TestCreateEndpoint(t *testing.T) {
	srv, store, notifier := newTestServer("")
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/v1/create", createBody(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["id"] == "" {
		t.Error("expected id in response")
	}
	if v, _ := body["verify_required"].(bool); !v {
		t.Error("expected verify_required=true")
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 verification mail, got %d", len(notifier.sent))
	}
	drop, _ := store.GetDrop(context.Background(), body["id"].(string))
	if drop.Status != models.StatusPendingVerification {
		t.Errorf("expected PENDING_VERIFICATION, got %s", drop.Status)
	}
}

func TestCreateMissingFields(t *testing.T) {
	srv, _, _ := newTestServer("")
	handler := srv.BuildRouter()

	body := createBody()
	delete(body, "recipient_email")
	w := postJSON(t, handler, "/v1/create", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	srv, store, notifier := newTestServer("")
	handler := srv.BuildRouter()
	drop := createDrop(t, handler, store)

	// Missing token
	w := postJSON(t, handler, "/v1/verify", map[string]any{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing token, got %d", w.Code)
	}

	// Unknown token
	w = postJSON(t, handler, "/v1/verify", map[string]any{"token": "ddv_bogus"}, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown token, got %d", w.Code)
	}

	// Valid token
	w = postJSON(t, handler, "/v1/verify", map[string]any{"token": drop.VerifyToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify failed: %d %s", w.Code, w.Body.String())
	}
	mailsAfterVerify := len(notifier.sent)

	// Idempotent repeat: already_verified flagged, no extra mail.
	w = postJSON(t, handler, "/v1/verify", map[string]any{"token": drop.VerifyToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second verify failed: %d", w.Code)
	}
	body := decodeBody(t, w)
	if av, _ := body["already_verified"].(bool); !av {
		t.Error("expected already_verified=true on repeat verify")
	}
	if len(notifier.sent) != mailsAfterVerify {
		t.Error("repeat verify must not send mail")
	}
}

func TestCheckinEndpoint(t *testing.T) {
	srv, store, _ := newTestServer("")
	handler := srv.BuildRouter()
	drop := createDrop(t, handler, store)

	// Before verification: 403
	w := postJSON(t, handler, "/v1/checkin", map[string]any{"token": drop.CheckinToken}, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 before verification, got %d", w.Code)
	}

	postJSON(t, handler, "/v1/verify", map[string]any{"token": drop.VerifyToken}, nil)

	// Unknown token: 404
	w = postJSON(t, handler, "/v1/checkin", map[string]any{"token": "ddc_bogus"}, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown token, got %d", w.Code)
	}

	// Valid: 200 + release_at
	w = postJSON(t, handler, "/v1/checkin", map[string]any{"token": drop.CheckinToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("checkin failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if _, err := time.Parse(time.RFC3339, body["release_at"].(string)); err != nil {
		t.Errorf("release_at not RFC3339: %v", err)
	}

	// After release: 409
	store.drops[drop.ID].Status = models.StatusReleased
	w = postJSON(t, handler, "/v1/checkin", map[string]any{"token": drop.CheckinToken}, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 after release, got %d", w.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	srv, store, notifier := newTestServer("")
	handler := srv.BuildRouter()
	drop := createDrop(t, handler, store)
	postJSON(t, handler, "/v1/verify", map[string]any{"token": drop.VerifyToken}, nil)

	// Nothing due yet.
	w := postJSON(t, handler, "/v1/sweep", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if results := body["results"].([]any); len(results) != 0 {
		t.Errorf("expected no results, got %v", results)
	}

	// Force the deadline into the past: sweep releases.
	store.drops[drop.ID].ReleaseAt = time.Now().Add(-time.Hour)
	mailsBefore := len(notifier.sent)
	w = postJSON(t, handler, "/v1/sweep", nil, nil)
	body = decodeBody(t, w)
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %v", results)
	}
	action := results[0].(map[string]any)["action"].(string)
	if action != string(models.ActionReleased) {
		t.Errorf("expected released, got %s", action)
	}
	if len(notifier.sent) != mailsBefore+1 {
		t.Error("expected release mail")
	}
	if store.drops[drop.ID].Status != models.StatusReleased {
		t.Error("drop should be RELEASED after sweep")
	}
}

func TestSweepCronSecret(t *testing.T) {
	srv, _, _ := newTestServer("s3cret")
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/v1/sweep", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %d", w.Code)
	}

	w = postJSON(t, handler, "/v1/sweep", nil, map[string]string{"X-Cron-Secret": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong secret, got %d", w.Code)
	}

	w = postJSON(t, handler, "/v1/sweep", nil, map[string]string{"X-Cron-Secret": "s3cret"})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with correct secret, got %d", w.Code)
	}
}

func TestReceiptEndpoint(t *testing.T) {
	srv, store, _ := newTestServer("")
	handler := srv.BuildRouter()
	drop := createDrop(t, handler, store)

	w := getJSON(t, handler, "/v1/receipt/"+drop.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("receipt failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["payload_hash"] != "deadbeef" {
		t.Errorf("expected payload_hash in receipt, got %v", body["payload_hash"])
	}
	if body["status"] != string(models.StatusPendingVerification) {
		t.Errorf("unexpected status %v", body["status"])
	}
	// The receipt must not leak tokens or contact data.
	for _, key := range []string{"verify_token", "checkin_token", "owner_email", "recipient_email"} {
		if _, ok := body[key]; ok {
			t.Errorf("receipt must not contain %s", key)
		}
	}

	w = getJSON(t, handler, "/v1/receipt/00000000-0000-0000-0000-000000000000")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer("")
	handler := srv.BuildRouter()

	w := getJSON(t, handler, "/v1/sys/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
