package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, root string) *Service {
	t.Helper()
	s := NewService(NewMemoryStore(), nil)
	require.NoError(t, s.Initialize(context.Background(), root))
	return s
}

func TestInitialize(t *testing.T) {
	t.Run("should initialize once", func(t *testing.T) {
		s := NewService(NewMemoryStore(), nil)
		assert.NoError(t, s.Initialize(context.Background(), "root"))
	})

	t.Run("should fail on second initialization", func(t *testing.T) {
		s := newService(t, "root")
		err := s.Initialize(context.Background(), "other")
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
	})

	t.Run("should fail reads before initialization", func(t *testing.T) {
		s := NewService(NewMemoryStore(), nil)
		_, err := s.IsAuthorized(context.Background(), "anyone")
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}

func TestIsAuthorized(t *testing.T) {
	ctx := context.Background()

	t.Run("root is always authorized", func(t *testing.T) {
		s := newService(t, "root")
		ok, err := s.IsAuthorized(ctx, "root")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown principal is not authorized", func(t *testing.T) {
		s := newService(t, "root")
		ok, err := s.IsAuthorized(ctx, "stranger")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAddPrincipal(t *testing.T) {
	ctx := context.Background()

	t.Run("root can add principals", func(t *testing.T) {
		s := newService(t, "root")
		require.NoError(t, s.AddPrincipal(ctx, "root", "approver-1"))

		ok, _ := s.IsAuthorized(ctx, "approver-1")
		assert.True(t, ok)
	})

	t.Run("added principal can add others", func(t *testing.T) {
		s := newService(t, "root")
		require.NoError(t, s.AddPrincipal(ctx, "root", "approver-1"))
		require.NoError(t, s.AddPrincipal(ctx, "approver-1", "approver-2"))

		ok, _ := s.IsAuthorized(ctx, "approver-2")
		assert.True(t, ok)
	})

	t.Run("unauthorized caller cannot add", func(t *testing.T) {
		s := newService(t, "root")
		err := s.AddPrincipal(ctx, "stranger", "approver-1")
		assert.ErrorIs(t, err, ErrUnauthorized)

		ok, _ := s.IsAuthorized(ctx, "approver-1")
		assert.False(t, ok)
	})

	t.Run("adding root does not make it removable", func(t *testing.T) {
		s := newService(t, "root")
		require.NoError(t, s.AddPrincipal(ctx, "root", "root"))

		members, err := s.Principals(ctx)
		require.NoError(t, err)
		assert.NotContains(t, members, "root")
	})
}

func TestRemovePrincipal(t *testing.T) {
	ctx := context.Background()

	t.Run("authorized caller can revoke a principal", func(t *testing.T) {
		s := newService(t, "root")
		require.NoError(t, s.AddPrincipal(ctx, "root", "approver-1"))
		require.NoError(t, s.RemovePrincipal(ctx, "root", "approver-1"))

		ok, _ := s.IsAuthorized(ctx, "approver-1")
		assert.False(t, ok)
	})

	t.Run("removing root always fails regardless of caller", func(t *testing.T) {
		s := newService(t, "root")
		require.NoError(t, s.AddPrincipal(ctx, "root", "approver-1"))

		for _, caller := range []string{"root", "approver-1"} {
			err := s.RemovePrincipal(ctx, caller, "root")
			assert.ErrorIs(t, err, ErrCannotRemoveRoot)
		}

		ok, _ := s.IsAuthorized(ctx, "root")
		assert.True(t, ok)
	})

	t.Run("unauthorized caller cannot remove", func(t *testing.T) {
		s := newService(t, "root")
		require.NoError(t, s.AddPrincipal(ctx, "root", "approver-1"))

		err := s.RemovePrincipal(ctx, "stranger", "approver-1")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("removing unknown principal fails cleanly", func(t *testing.T) {
		s := newService(t, "root")
		err := s.RemovePrincipal(ctx, "root", "ghost")
		assert.ErrorIs(t, err, ErrPrincipalNotFound)
	})

	t.Run("revoked principal loses the right to mutate", func(t *testing.T) {
		s := newService(t, "root")
		require.NoError(t, s.AddPrincipal(ctx, "root", "approver-1"))
		require.NoError(t, s.RemovePrincipal(ctx, "root", "approver-1"))

		err := s.AddPrincipal(ctx, "approver-1", "approver-2")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}
