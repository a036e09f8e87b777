package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func exerciseBlob(t *testing.T, b Blob) {
	t.Helper()
	ctx := context.Background()

	if _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := b.Put(ctx, KeyTheme, []byte(`"dark"`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := b.Get(ctx, KeyTheme)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `"dark"` {
		t.Errorf("expected \"dark\", got %s", got)
	}
	if err := b.Put(ctx, KeyTheme, []byte(`"light"`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = b.Get(ctx, KeyTheme)
	if string(got) != `"light"` {
		t.Errorf("expected overwrite to win, got %s", got)
	}
	if err := b.Delete(ctx, KeyTheme); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete(ctx, KeyTheme); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := b.Get(ctx, KeyTheme); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemory(t *testing.T) {
	exerciseBlob(t, NewMemory())
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	m.Put(context.Background(), "k", []byte("abc"))
	v, _ := m.Get(context.Background(), "k")
	v[0] = 'z'
	again, _ := m.Get(context.Background(), "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %s", again)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	f, err := OpenFile(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseBlob(t, f)
}

func TestFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	f, err := OpenFile(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Put(context.Background(), KeyUser, []byte(`{"email":"admin@entnt.in","role":"admin"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	reopened, err := OpenFile(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(context.Background(), KeyUser)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != `{"email":"admin@entnt.in","role":"admin"}` {
		t.Errorf("unexpected value after reopen: %s", got)
	}
}

func TestFile_CorruptDocumentIsMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	f, err := OpenFile(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Get(context.Background(), KeyUser); !errors.Is(err, ErrNotFound) {
		t.Errorf("corrupt store should start empty, got %v", err)
	}
	aside, _ := filepath.Glob(path + ".corrupt-*")
	if len(aside) != 1 {
		t.Fatalf("moved-aside files = %v", aside)
	}
	if raw, _ := os.ReadFile(aside[0]); string(raw) != "{not json" {
		t.Errorf("moved-aside content = %q", raw)
	}

	if err := f.Put(context.Background(), KeyUser, []byte("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := OpenFile(path, zerolog.Nop()); err != nil {
		t.Errorf("rewritten store should reopen: %v", err)
	}
}

func TestNamespace_IsolatesKeys(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	a := Namespace(base, "session:a:")
	b := Namespace(base, "session:b:")

	a.Put(ctx, KeyUser, []byte("alice"))
	if _, err := b.Get(ctx, KeyUser); !errors.Is(err, ErrNotFound) {
		t.Fatalf("namespace b should not see a's key, got %v", err)
	}
	if _, err := base.Get(ctx, "session:a:"+KeyUser); err != nil {
		t.Fatalf("expected prefixed key in base blob: %v", err)
	}
	exerciseBlob(t, b)
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool := mustPool(t, url)
	p := NewPostgres(pool)
	if err := p.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	exerciseBlob(t, Namespace(p, t.Name()+":"))
}
