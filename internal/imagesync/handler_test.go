package imagesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func doWebhook(t *testing.T, handler http.Handler, body string, header http.Header) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/storage", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	payload := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return rec.Code, payload
}

func insertEvent(file string) string {
	event := Event{Type: EventInsert, Table: "objects", Record: &ObjectRecord{Name: key(FolderBefore, file), BucketID: "portfolio"}}
	raw, _ := json.Marshal(event)
	return string(raw)
}

func TestWebhookFullSyncResponse(t *testing.T) {
	repo := newFakeRepo()
	bucket := &fakeBucket{keys: []string{key(FolderBefore, "a.jpg"), key(FolderAfter, "b.jpg")}}
	handler := NewHandler(newTestSyncer(repo, bucket), nil, NewMemoryDeduper(time.Minute), nil)

	status, payload := doWebhook(t, handler, insertEvent("a.jpg"), nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, payload)
	}
	if payload["success"] != true || payload["mode"] != ModeFull || payload["portfolioId"] != testPortfolioID {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["imageType"] != FolderBefore || payload["beforeImages"] != float64(1) || payload["afterImages"] != float64(1) {
		t.Fatalf("unexpected counts: %v", payload)
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	handler := NewHandler(newTestSyncer(newFakeRepo(), &fakeBucket{}), nil, nil, nil)
	status, payload := doWebhook(t, handler, "{not json", nil)
	if status != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected 400 INVALID_BODY, got %d %v", status, payload)
	}

	status, payload = doWebhook(t, handler, `{"type":"TRUNCATE","record":{"name":"x","bucket_id":"portfolio"}}`, nil)
	if status != http.StatusBadRequest || payload["code"] != "INVALID_EVENT" {
		t.Fatalf("expected 400 INVALID_EVENT, got %d %v", status, payload)
	}
}

func TestWebhookNonMatchingPathIsNoop(t *testing.T) {
	repo := newFakeRepo()
	handler := NewHandler(newTestSyncer(repo, &fakeBucket{}), nil, nil, nil)
	body := `{"type":"INSERT","table":"objects","record":{"name":"loose/file.jpg","bucket_id":"portfolio"}}`

	status, payload := doWebhook(t, handler, body, nil)
	if status != http.StatusOK || payload["ignored"] != true {
		t.Fatalf("expected ignored 200, got %d %v", status, payload)
	}
	if repo.saves != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestWebhookMissingPortfolio(t *testing.T) {
	repo := newFakeRepo()
	delete(repo.images, testPortfolioID)
	handler := NewHandler(newTestSyncer(repo, &fakeBucket{}), nil, nil, nil)

	status, payload := doWebhook(t, handler, insertEvent("a.jpg"), nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if payload["error"] != "Portfolio not found" || payload["portfolioId"] != testPortfolioID {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestWebhookStorageFailureIs500AndReleasesClaim(t *testing.T) {
	repo := newFakeRepo()
	bucket := &fakeBucket{err: errors.New("storage offline")}
	handler := NewHandler(newTestSyncer(repo, bucket), nil, NewMemoryDeduper(time.Minute), nil)
	body := insertEvent("a.jpg")

	status, payload := doWebhook(t, handler, body, nil)
	if status != http.StatusInternalServerError || payload["code"] != "SYNC_FAILED" {
		t.Fatalf("expected 500 SYNC_FAILED, got %d %v", status, payload)
	}

	bucket.mu.Lock()
	bucket.err = nil
	bucket.keys = []string{key(FolderBefore, "a.jpg")}
	bucket.mu.Unlock()

	status, payload = doWebhook(t, handler, body, nil)
	if status != http.StatusOK || payload["duplicate"] == true {
		t.Fatalf("expected retried delivery to be processed, got %d %v", status, payload)
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	repo := newFakeRepo()
	bucket := &fakeBucket{keys: []string{key(FolderBefore, "a.jpg")}}
	handler := NewHandler(newTestSyncer(repo, bucket), nil, NewMemoryDeduper(time.Minute), nil)
	body := insertEvent("a.jpg")

	if status, _ := doWebhook(t, handler, body, nil); status != http.StatusOK {
		t.Fatalf("first delivery failed: %d", status)
	}
	status, payload := doWebhook(t, handler, body, nil)
	if status != http.StatusOK || payload["duplicate"] != true {
		t.Fatalf("expected duplicate ack, got %d %v", status, payload)
	}
}

func deleteEvent(file string) string {
	event := Event{Type: EventDelete, Table: "objects", OldRecord: &ObjectRecord{Name: key(FolderBefore, file), BucketID: "portfolio"}}
	raw, _ := json.Marshal(event)
	return string(raw)
}

func TestWebhookReuploadAfterDeleteIsSynced(t *testing.T) {
	repo := newFakeRepo()
	bucket := &fakeBucket{keys: []string{key(FolderBefore, "a.jpg")}}
	handler := NewHandler(newTestSyncer(repo, bucket), nil, NewMemoryDeduper(time.Minute), nil)
	url := testURLs.PublicURL(key(FolderBefore, "a.jpg"))

	beforeImages := func() []string {
		images, _ := repo.LoadPortfolioImages(context.Background(), testPortfolioID)
		return images.Before
	}

	if status, payload := doWebhook(t, handler, insertEvent("a.jpg"), nil); status != http.StatusOK || payload["duplicate"] == true {
		t.Fatalf("insert: %d %v", status, payload)
	}
	if got := beforeImages(); len(got) != 1 || got[0] != url {
		t.Fatalf("after insert: %v", got)
	}

	bucket.mu.Lock()
	bucket.keys = nil
	bucket.mu.Unlock()
	if status, payload := doWebhook(t, handler, deleteEvent("a.jpg"), nil); status != http.StatusOK || payload["duplicate"] == true {
		t.Fatalf("delete: %d %v", status, payload)
	}
	if got := beforeImages(); len(got) != 0 {
		t.Fatalf("after delete: %v", got)
	}

	bucket.mu.Lock()
	bucket.keys = []string{key(FolderBefore, "a.jpg")}
	bucket.mu.Unlock()
	status, payload := doWebhook(t, handler, insertEvent("a.jpg"), nil)
	if status != http.StatusOK || payload["duplicate"] == true {
		t.Fatalf("re-upload must be processed, got %d %v", status, payload)
	}
	if got := beforeImages(); len(got) != 1 || got[0] != url {
		t.Fatalf("after re-upload: %v", got)
	}

	if _, payload := doWebhook(t, handler, insertEvent("a.jpg"), nil); payload["duplicate"] != true {
		t.Fatalf("redelivery of the re-upload should still be deduplicated, got %v", payload)
	}
}

func TestDeliveryKeyIgnoresBodyFormatting(t *testing.T) {
	a := Event{Type: "insert", Record: &ObjectRecord{Name: key(FolderBefore, "a.jpg"), BucketID: "portfolio"}}
	b := Event{Type: EventInsert, Schema: "storage", Record: &ObjectRecord{Name: key(FolderBefore, "a.jpg"), BucketID: "portfolio"}}
	if DeliveryKey(a) != DeliveryKey(b) {
		t.Fatal("same change should share a delivery key")
	}
	del := Event{Type: EventDelete, OldRecord: &ObjectRecord{Name: key(FolderBefore, "a.jpg"), BucketID: "portfolio"}}
	if DeliveryKey(del) == DeliveryKey(a) {
		t.Fatal("delete and insert must not share a key")
	}
	if !slices.Contains(supersededKeys(del), DeliveryKey(a)) {
		t.Fatal("a delete should supersede the insert claim")
	}
}

func TestWebhookRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	deduper := NewRedisDeduper(client, time.Minute)

	ctx := context.Background()
	first, err := deduper.Claim(ctx, "abc")
	if err != nil || !first {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	second, err := deduper.Claim(ctx, "abc")
	if err != nil || second {
		t.Fatalf("second claim = %v, %v", second, err)
	}
	if err := deduper.Release(ctx, "abc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := deduper.Claim(ctx, "abc")
	if err != nil || !again {
		t.Fatalf("claim after release = %v, %v", again, err)
	}

	mr.FastForward(2 * time.Minute)
	expired, err := deduper.Claim(ctx, "abc")
	if err != nil || !expired {
		t.Fatalf("claim after ttl = %v, %v", expired, err)
	}
}

func TestMemoryDeduperExpires(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	deduper := NewMemoryDeduper(time.Minute)
	deduper.now = func() time.Time { return now }

	if ok, _ := deduper.Claim(context.Background(), "k"); !ok {
		t.Fatalf("expected first claim")
	}
	if ok, _ := deduper.Claim(context.Background(), "k"); ok {
		t.Fatalf("expected duplicate")
	}
	now = now.Add(61 * time.Second)
	if ok, _ := deduper.Claim(context.Background(), "k"); !ok {
		t.Fatalf("expected claim after expiry")
	}
}

func TestWebhookHMACVerification(t *testing.T) {
	verifier, err := NewVerifier(VerifyConfig{Strategy: VerifyHMAC, Secret: "s3cret", Header: "X-Webhook-Signature"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	repo := newFakeRepo()
	handler := NewHandler(newTestSyncer(repo, &fakeBucket{}), verifier, nil, nil)
	body := insertEvent("a.jpg")

	status, payload := doWebhook(t, handler, body, http.Header{"X-Webhook-Signature": {"deadbeef"}})
	if status != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %v", status, payload)
	}
	status, _ = doWebhook(t, handler, body, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", status)
	}

	sig := Sign([]byte("s3cret"), []byte(body))
	status, payload = doWebhook(t, handler, body, http.Header{"X-Webhook-Signature": {"sha256=" + sig}})
	if status != http.StatusOK {
		t.Fatalf("expected 200 with valid signature, got %d %v", status, payload)
	}
}

func TestTokenVerifier(t *testing.T) {
	verifier, err := NewVerifier(VerifyConfig{Strategy: "TOKEN", Secret: "tok"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := verifier.Verify(req, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	req.Header.Set("Authorization", "Bearer tok")
	if err := verifier.Verify(req, nil); err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
}

func TestNewVerifierRejectsBadConfig(t *testing.T) {
	if _, err := NewVerifier(VerifyConfig{Strategy: "hmac"}); err == nil {
		t.Fatalf("expected error for hmac without secret")
	}
	if _, err := NewVerifier(VerifyConfig{Strategy: "rsa", Secret: "x"}); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestWebhookBodyLimit(t *testing.T) {
	handler := NewHandler(newTestSyncer(newFakeRepo(), &fakeBucket{}), nil, nil, nil)
	big := bytes.Repeat([]byte("a"), maxWebhookBody+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/storage", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestMetricsCountOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	repo := newFakeRepo()
	bucket := &fakeBucket{keys: []string{key(FolderBefore, "a.jpg")}}
	syncer := NewSyncer(repo, bucket, Options{Bucket: "portfolio", URLs: testURLs, Metrics: metrics})

	if _, err := syncer.FullSync(context.Background(), testPortfolioID); err != nil {
		t.Fatalf("full sync: %v", err)
	}
	delete(repo.images, testPortfolioID)
	_, _ = syncer.FullSync(context.Background(), testPortfolioID)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "colorcraft_imagesync_events_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			counts[labels["mode"]+"/"+labels["outcome"]] = metric.GetCounter().GetValue()
		}
	}
	if counts["full/ok"] != 1 || counts["full/not_found"] != 1 {
		t.Fatalf("unexpected counters: %v", counts)
	}
}
