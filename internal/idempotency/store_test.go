package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Janar2510/driveapipe-app/model"
)

func testResponse() Response {
	return Response{
		Status:      201,
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(`{"id":"deal-1","title":"Acme renewal"}`),
	}
}

func requireConflict(t *testing.T, err error) {
	t.Helper()
	var envErr *model.ErrorEnvelope
	if !errors.As(err, &envErr) {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if envErr.Code != model.ErrConflict {
		t.Errorf("error code = %s, want %s", envErr.Code, model.ErrConflict)
	}
}

// --- MemoryStore ---

func TestMemoryStore_CheckNotFound(t *testing.T) {
	store := NewMemoryStore()

	resp, found, err := store.Check(context.Background(), "idem:u1:POST /v1/pipelines:key1", "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil", resp)
	}
}

func TestMemoryStore_SaveAndCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "idem:u1:POST /v1/deals/d1/move:key1"

	if err := store.Save(ctx, key, "hash-abc", testResponse(), 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	resp, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if resp.Status != 201 {
		t.Errorf("resp.Status = %d, want 201", resp.Status)
	}
	if string(resp.Body) != `{"id":"deal-1","title":"Acme renewal"}` {
		t.Errorf("resp.Body = %s", resp.Body)
	}
}

func TestMemoryStore_ConflictOnHashMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "idem:u1:POST /v1/pipelines:key1"

	_ = store.Save(ctx, key, "hash-abc", testResponse(), 5*time.Minute)

	_, found, err := store.Check(ctx, key, "hash-different")
	if !found {
		t.Error("found = false, want true on conflict")
	}
	requireConflict(t, err)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	key := "idem:u1:POST /v1/pipelines:key1"

	_ = store.Save(ctx, key, "hash-abc", testResponse(), time.Minute)

	now = now.Add(2 * time.Minute)

	resp, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found || resp != nil {
		t.Errorf("found = %v, resp = %+v, want expired", found, resp)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (expired entry removed)", store.Len())
	}
}

func TestMemoryStore_BodyIsCopied(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	resp := testResponse()

	_ = store.Save(ctx, "k", "h", resp, time.Minute)
	resp.Body[0] = 'X'

	got, _, _ := store.Check(ctx, "k", "h")
	if got.Body[0] != '{' {
		t.Errorf("stored body was mutated through the caller's slice: %s", got.Body)
	}
}

func TestMemoryStore_Ping(t *testing.T) {
	if err := NewMemoryStore().Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

// --- RedisStore ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore_CheckNotFound(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)

	resp, found, err := store.Check(context.Background(), "idem:u1:POST /v1/pipelines:key1", "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found || resp != nil {
		t.Errorf("found = %v, resp = %+v, want miss", found, resp)
	}
}

func TestRedisStore_SaveAndCheck(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := "idem:u1:POST /v1/pipelines:key1"

	if err := store.Save(ctx, key, "hash-abc", testResponse(), 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	resp, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if resp.Status != 201 || resp.ContentType != "application/json; charset=utf-8" {
		t.Errorf("resp = %+v", resp)
	}
	if string(resp.Body) != `{"id":"deal-1","title":"Acme renewal"}` {
		t.Errorf("resp.Body = %s", resp.Body)
	}
}

func TestRedisStore_ConflictOnHashMismatch(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := "idem:u1:POST /v1/pipelines:key1"

	_ = store.Save(ctx, key, "hash-abc", testResponse(), 5*time.Minute)

	_, _, err := store.Check(ctx, key, "hash-other")
	requireConflict(t, err)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := "idem:u1:POST /v1/pipelines:key1"

	if err := store.Save(ctx, key, "hash-abc", testResponse(), time.Second); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// Fast-forward miniredis time past TTL.
	mr.FastForward(2 * time.Second)

	_, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false (expired)")
	}
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	mr.Set("idem:bad", "not-json")

	if _, _, err := store.Check(context.Background(), "idem:bad", "h"); err == nil {
		t.Fatal("Check on a corrupt entry should return an error")
	}
}

func TestRedisStore_Ping(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() = %v", err)
	}
	mr.Close()
	if err := store.Ping(context.Background()); err == nil {
		t.Error("Ping() after server close should fail")
	}
}

func TestFormatKey(t *testing.T) {
	got := FormatKey("u1", "POST", "/v1/deals/d1/move", "abc")
	want := "idem:u1:POST /v1/deals/d1/move:abc"
	if got != want {
		t.Errorf("FormatKey() = %q, want %q", got, want)
	}
}

func TestHashInput(t *testing.T) {
	a := HashInput([]byte(`{"name":"Sales"}`))
	b := HashInput([]byte(`{"name":"Sales"}`))
	c := HashInput([]byte(`{"name":"Other"}`))
	if a != b {
		t.Error("equal bodies should hash equally")
	}
	if a == c {
		t.Error("different bodies should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
}
