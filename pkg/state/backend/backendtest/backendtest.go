// Package backendtest holds behaviour checks shared by state backend tests.
package backendtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/state/backend"
)

// Run exercises read, conditional write, list, delete and locking against
// a fresh backend from newBackend.
func Run(t *testing.T, newBackend func(t *testing.T) backend.Backend) {
	t.Run("ReadMissing", func(t *testing.T) {
		b := newBackend(t)
		_, _, err := b.Read(context.Background(), "environments/dev/deploy.state.json")
		assert.True(t, errors.Is(err, backend.ErrNotFound), "got %v", err)
	})

	t.Run("ConditionalWrites", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		path := "environments/dev/deploy.state.json"

		v1, err := b.Write(ctx, path, strings.NewReader(`{"serial":1}`), backend.IfVersion(""))
		require.NoError(t, err)
		require.NotEmpty(t, v1)

		// Creating again must fail
		_, err = b.Write(ctx, path, strings.NewReader(`{"serial":9}`), backend.Precondition{IfAbsent: true})
		assert.True(t, errors.Is(err, backend.ErrConflict), "got %v", err)

		v2, err := b.Write(ctx, path, strings.NewReader(`{"serial":2}`), backend.IfVersion(v1))
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)

		// Stale version must fail and leave content untouched
		_, err = b.Write(ctx, path, strings.NewReader(`{"serial":3}`), backend.IfVersion(v1))
		assert.True(t, errors.Is(err, backend.ErrConflict), "got %v", err)

		r, version, err := b.Read(ctx, path)
		require.NoError(t, err)
		defer r.Close()
		data, _ := io.ReadAll(r)
		assert.Equal(t, `{"serial":2}`, string(data))
		assert.Equal(t, v2, version)

		// Unconditional writes always succeed
		_, err = b.Write(ctx, path, bytes.NewReader([]byte(`{"serial":4}`)), backend.Precondition{})
		require.NoError(t, err)
	})

	t.Run("ListExistsDelete", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for _, p := range []string{"environments/dev/deploy.state.json", "environments/prod/deploy.state.json"} {
			_, err := b.Write(ctx, p, strings.NewReader("{}"), backend.Precondition{})
			require.NoError(t, err)
		}

		paths, err := b.List(ctx, "environments/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"environments/dev/deploy.state.json",
			"environments/prod/deploy.state.json",
		}, paths)

		ok, err := b.Exists(ctx, "environments/dev/deploy.state.json")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, b.Delete(ctx, "environments/dev/deploy.state.json"))
		require.NoError(t, b.Delete(ctx, "environments/dev/deploy.state.json"))

		ok, err = b.Exists(ctx, "environments/dev/deploy.state.json")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Lock", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		lock, err := b.Lock(ctx, "environments/dev", backend.LockInfo{Who: "alice", Operation: "deploy"})
		require.NoError(t, err)
		assert.NotEmpty(t, lock.ID())
		assert.Equal(t, "deploy", lock.Info().Operation)

		_, err = b.Lock(ctx, "environments/dev", backend.LockInfo{Who: "bob", Operation: "publish"})
		require.Error(t, err)
		var lockErr *backend.LockError
		require.True(t, errors.As(err, &lockErr))
		assert.Equal(t, "alice", lockErr.Info.Who)
		assert.True(t, errors.Is(err, backend.ErrLocked))

		// Other environments are independent
		other, err := b.Lock(ctx, "environments/prod", backend.LockInfo{Who: "bob"})
		require.NoError(t, err)
		require.NoError(t, other.Unlock(ctx))

		require.NoError(t, lock.Unlock(ctx))
		again, err := b.Lock(ctx, "environments/dev", backend.LockInfo{Who: "bob"})
		require.NoError(t, err)
		require.NoError(t, again.Unlock(ctx))
	})
}
