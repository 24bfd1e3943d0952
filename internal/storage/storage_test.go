package storage

import (
	"path/filepath"
	"testing"

	logx "slotwatch/pkg/logx"
)

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := t.Context()

	if _, ok, err := st.Get(ctx, "42"); err != nil || ok {
		t.Fatalf("Get missing key: ok=%v err=%v", ok, err)
	}

	if err := st.Set(ctx, "42", "subscriptions: [7]\nchat_id: 555\n"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := st.Get(ctx, "42")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if v != "subscriptions: [7]\nchat_id: 555\n" {
		t.Fatalf("value mismatch: %q", v)
	}

	// Last write wins.
	if err := st.Set(ctx, "42", "chat_id: 777\n"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, _, _ = st.Get(ctx, "42")
	if v != "chat_id: 777\n" {
		t.Fatalf("overwrite lost: %q", v)
	}
}

func TestFileStoreKeySanitizing(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := t.Context()

	// Keys with path-hostile characters must not escape the store dir.
	if err := st.Set(ctx, "../weird/key", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := st.Get(ctx, "../weird/key")
	if err != nil || !ok || v != "x" {
		t.Fatalf("Get sanitized key: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	if _, ok, _ := m.Get(ctx, "all_users"); ok {
		t.Fatal("fresh memory store is not empty")
	}
	if err := m.Set(ctx, "all_users", "users: [42]\n"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := m.Get(ctx, "all_users")
	if err != nil || !ok || v != "users: [42]\n" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}
}
