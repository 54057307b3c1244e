package opguard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRejectsSameKey(t *testing.T) {
	g := New()

	release, err := g.Acquire("1607", "upload")
	require.NoError(t, err)

	_, err = g.Acquire("1607", "delete")
	require.ErrorIs(t, err, ErrConcurrentOperationRejected)
	assert.Contains(t, err.Error(), "upload")

	release()
	release()

	release, err = g.Acquire("1607", "delete")
	require.NoError(t, err)
	release()
}

func TestDifferentKeysAreIndependent(t *testing.T) {
	g := New()

	r1, err := g.Acquire("1", "upload")
	require.NoError(t, err)
	defer r1()

	r2, err := g.Acquire("2", "upload")
	require.NoError(t, err)
	defer r2()

	op, ok := g.running("1")
	assert.True(t, ok)
	assert.Equal(t, "upload", op)
}

func TestDoReleasesOnError(t *testing.T) {
	g := New()
	boom := errors.New("boom")

	err := g.Do("1", "save", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	_, running := g.running("1")
	assert.False(t, running)
}

func TestDoRejectsNested(t *testing.T) {
	g := New()

	err := g.Do("1", "outer", func() error {
		return g.Do("1", "inner", func() error { return nil })
	})
	assert.ErrorIs(t, err, ErrConcurrentOperationRejected)
}
