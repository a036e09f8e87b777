package session

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/entnt/dental-connect/internal/platform/kv"
)

type failingBlob struct {
	kv.Blob
	failPut    bool
	failDelete bool
}

func (f *failingBlob) Put(ctx context.Context, key string, value []byte) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.Blob.Put(ctx, key, value)
}

func (f *failingBlob) Delete(ctx context.Context, key string) error {
	if f.failDelete {
		return errors.New("disk full")
	}
	return f.Blob.Delete(ctx, key)
}

func newVerifier(t *testing.T) *StaticVerifier {
	t.Helper()
	v, err := NewStaticVerifier(DemoAccounts(), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewStaticVerifier: %v", err)
	}
	return v
}

func TestStaticVerifier(t *testing.T) {
	v := newVerifier(t)
	tests := []struct {
		name     string
		email    string
		password string
		want     Identity
	}{
		{"admin", "admin@entnt.in", "admin123", Admin{Address: "admin@entnt.in"}},
		{"patient", "john@entnt.in", "john123", Patient{Address: "john@entnt.in", PatientID: "p1"}},
		{"wrong password", "admin@entnt.in", "admin124", nil},
		{"email is case sensitive", "Admin@entnt.in", "admin123", nil},
		{"unknown", "nobody@entnt.in", "admin123", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := v.Verify(context.Background(), tt.email, tt.password)
			if ok != (tt.want != nil) {
				t.Fatalf("ok = %v, want %v", ok, tt.want != nil)
			}
			if got != tt.want {
				t.Errorf("identity = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestNewStaticVerifier_Duplicate(t *testing.T) {
	accounts := append(DemoAccounts(), Account{Identity: Admin{Address: "admin@entnt.in"}, Password: "x"})
	if _, err := NewStaticVerifier(accounts, bcrypt.MinCost); err == nil {
		t.Fatal("expected duplicate account error")
	}
}

func TestProvider_LoginPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	blob := kv.NewMemory()
	v := newVerifier(t)

	p := NewProvider(ctx, blob, v, zerolog.Nop())
	if p.Current() != nil {
		t.Fatal("expected no identity on empty blob")
	}
	ok, err := p.Login(ctx, "john@entnt.in", "john123")
	if err != nil || !ok {
		t.Fatalf("Login = %v, %v", ok, err)
	}

	raw, err := blob.Get(ctx, kv.KeyUser)
	if err != nil {
		t.Fatalf("user key not written: %v", err)
	}
	if string(raw) != `{"email":"john@entnt.in","role":"patient","patientId":"p1"}` {
		t.Errorf("stored identity = %s", raw)
	}

	restored := NewProvider(ctx, blob, v, zerolog.Nop())
	want := Patient{Address: "john@entnt.in", PatientID: "p1"}
	if restored.Current() != want {
		t.Errorf("restored = %#v, want %#v", restored.Current(), want)
	}
}

func TestProvider_FailedLoginKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	blob := kv.NewMemory()
	p := NewProvider(ctx, blob, newVerifier(t), zerolog.Nop())
	if ok, _ := p.Login(ctx, "admin@entnt.in", "admin123"); !ok {
		t.Fatal("admin login failed")
	}

	ok, err := p.Login(ctx, "john@entnt.in", "wrong")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch")
	}
	if _, isAdmin := p.Current().(Admin); !isAdmin {
		t.Errorf("identity changed to %#v", p.Current())
	}
}

func TestProvider_Logout(t *testing.T) {
	ctx := context.Background()
	blob := kv.NewMemory()
	p := NewProvider(ctx, blob, newVerifier(t), zerolog.Nop())
	p.Login(ctx, "admin@entnt.in", "admin123")

	if err := p.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if p.Current() != nil {
		t.Error("identity still active")
	}
	if _, err := blob.Get(ctx, kv.KeyUser); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("user key still present: %v", err)
	}
	if err := p.Logout(ctx); err != nil {
		t.Errorf("second Logout: %v", err)
	}
}

func TestProvider_CorruptIdentityIgnored(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{`not json`, `{"email":"x@y","role":"dentist"}`, `{"email":"x@y","role":"patient"}`} {
		blob := kv.NewMemory()
		blob.Put(ctx, kv.KeyUser, []byte(raw))
		p := NewProvider(ctx, blob, newVerifier(t), zerolog.Nop())
		if p.Current() != nil {
			t.Errorf("%s: restored %#v", raw, p.Current())
		}
	}
}

func TestProvider_StorageFailure(t *testing.T) {
	ctx := context.Background()
	blob := &failingBlob{Blob: kv.NewMemory(), failPut: true}
	p := NewProvider(ctx, blob, newVerifier(t), zerolog.Nop())

	ok, err := p.Login(ctx, "admin@entnt.in", "admin123")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if ok || p.Current() != nil {
		t.Error("identity set despite failed write")
	}

	blob.failPut = false
	p.Login(ctx, "admin@entnt.in", "admin123")
	blob.failDelete = true
	if err := p.Logout(ctx); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if p.Current() == nil {
		t.Error("identity cleared although the blob still holds it")
	}
}

func TestManager_IsolatesSessions(t *testing.T) {
	ctx := context.Background()
	blob := kv.NewMemory()
	m := NewManager(blob, newVerifier(t), zerolog.Nop())

	a, b := m.NewID(), m.NewID()
	if a == b {
		t.Fatal("session ids collide")
	}
	m.Open(ctx, a).Login(ctx, "admin@entnt.in", "admin123")
	if m.Open(ctx, b).Current() != nil {
		t.Error("session b sees session a's identity")
	}
	if m.Open(ctx, a) != m.Open(ctx, a) {
		t.Error("provider not cached")
	}

	m.Forget(a)
	if _, isAdmin := m.Open(ctx, a).Current().(Admin); !isAdmin {
		t.Error("forgotten session not restored from blob")
	}
	if _, err := blob.Get(ctx, kv.KeyUser); !errors.Is(err, kv.ErrNotFound) {
		t.Error("namespaced login leaked into the root key")
	}
}

func TestThemeStore(t *testing.T) {
	ctx := context.Background()
	blob := kv.NewMemory()
	s := NewThemeStore(blob)

	if got, _ := s.Get(ctx); got != ThemeLight {
		t.Errorf("default theme = %q", got)
	}
	if err := s.Set(ctx, ThemeDark); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := s.Get(ctx); got != ThemeDark {
		t.Errorf("theme = %q, want dark", got)
	}
	if err := s.Set(ctx, Theme("neon")); err == nil {
		t.Error("expected error for unknown theme")
	}
	blob.Put(ctx, kv.KeyTheme, []byte("neon"))
	if got, _ := s.Get(ctx); got != ThemeLight {
		t.Errorf("unknown stored theme = %q, want light", got)
	}
}
