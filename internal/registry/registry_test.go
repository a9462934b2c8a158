package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookupSync(t *testing.T) {
	r := New()
	r.RegisterFunc("add", func(ctx context.Context, args []any, kwargs map[string]any) error {
		return nil
	})

	entry, err := r.Lookup("add")
	require.NoError(t, err)
	assert.Equal(t, KindSync, entry.Kind)
	assert.NotNil(t, entry.Sync)
}

func TestRegistry_RegisterAndLookupAsync(t *testing.T) {
	r := New()
	r.RegisterAsyncFunc("slow", func(ctx context.Context, args []any, kwargs map[string]any) error {
		return nil
	})

	entry, err := r.Lookup("slow")
	require.NoError(t, err)
	assert.Equal(t, KindAsync, entry.Kind)
	assert.NotNil(t, entry.Async)
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := New()
	_, err := r.Lookup("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	r := New()
	r.RegisterFunc("add", func(ctx context.Context, args []any, kwargs map[string]any) error { return nil })
	r.RegisterAsyncFunc("add", func(ctx context.Context, args []any, kwargs map[string]any) error { return nil })

	entry, err := r.Lookup("add")
	require.NoError(t, err)
	assert.Equal(t, KindAsync, entry.Kind)
}

func TestRegistry_Names(t *testing.T) {
	r := New()
	r.RegisterFunc("add", func(ctx context.Context, args []any, kwargs map[string]any) error { return nil })
	r.RegisterFunc("mul", func(ctx context.Context, args []any, kwargs map[string]any) error { return nil })

	names := r.Names()
	assert.ElementsMatch(t, []string{"add", "mul"}, names)
}
