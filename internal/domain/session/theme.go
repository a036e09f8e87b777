package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/entnt/dental-connect/internal/platform/kv"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Valid reports whether t is light or dark.
func (t Theme) Valid() bool { return t == ThemeLight || t == ThemeDark }

// ThemeStore reads and writes the theme key of a blob.
type ThemeStore struct {
	blob kv.Blob
}

// NewThemeStore keeps the theme preference in blob.
func NewThemeStore(blob kv.Blob) *ThemeStore {
	return &ThemeStore{blob: blob}
}

// Get returns the stored theme, light when unset or unrecognised.
func (s *ThemeStore) Get(ctx context.Context) (Theme, error) {
	raw, err := s.blob.Get(ctx, kv.KeyTheme)
	if errors.Is(err, kv.ErrNotFound) {
		return ThemeLight, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read theme: %v", ErrStorage, err)
	}
	t := Theme(raw)
	if !t.Valid() {
		return ThemeLight, nil
	}
	return t, nil
}

// Set persists t. Anything but light or dark is rejected.
func (s *ThemeStore) Set(ctx context.Context, t Theme) error {
	if !t.Valid() {
		return fmt.Errorf("unknown theme %q", t)
	}
	if err := s.blob.Put(ctx, kv.KeyTheme, []byte(t)); err != nil {
		return fmt.Errorf("%w: write theme: %v", ErrStorage, err)
	}
	return nil
}
