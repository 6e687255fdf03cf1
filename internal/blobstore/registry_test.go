package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStore struct{ cfg any }

func (nopStore) Upload(context.Context, string, string) error   { return nil }
func (nopStore) Download(context.Context, string, string) error { return nil }
func (nopStore) Name() string                                   { return "nop" }

func TestRegistry(t *testing.T) {
	Register("nop", func(cfg any) (Store, error) { return nopStore{cfg: cfg}, nil })

	s, err := New("nop", 42)
	require.NoError(t, err)
	assert.Equal(t, "nop", s.Name())
	assert.Equal(t, 42, s.(nopStore).cfg)
	assert.Contains(t, Names(), "nop")

	_, err = New("missing", nil)
	assert.ErrorContains(t, err, "blob store not found: missing")
}
