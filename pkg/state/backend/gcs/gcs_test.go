package gcs

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/davidthor/catalogctl/pkg/state/backend"
)

func TestNewBackend_MissingBucket(t *testing.T) {
	_, err := NewBackend(map[string]string{})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("expected error message to mention bucket, got: %v", err)
	}
}

func TestNewBackend_WithEmulatorEndpoint(t *testing.T) {
	b, err := NewBackend(map[string]string{
		"bucket":   "state-bucket",
		"prefix":   "catalogctl",
		"endpoint": "http://127.0.0.1:4443/storage/v1/",
	})
	require.NoError(t, err)
	defer b.(*Backend).Close()

	assert.Equal(t, "gcs", b.Type())
	assert.Equal(t, "catalogctl/environments/dev/deploy.state.json",
		b.(*Backend).fullPath("environments/dev/deploy.state.json"))
}

func TestBackend_fullPath(t *testing.T) {
	tests := []struct {
		prefix   string
		path     string
		expected string
	}{
		{"", "state.json", "state.json"},
		{"env/staging", "state.json", "env/staging/state.json"},
	}
	for _, tt := range tests {
		b := &Backend{prefix: tt.prefix}
		if got := b.fullPath(tt.path); got != tt.expected {
			t.Errorf("fullPath(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.expected)
		}
	}
}

func TestConditions(t *testing.T) {
	conds, err := conditions(backend.Precondition{})
	require.NoError(t, err)
	assert.Nil(t, conds)

	conds, err = conditions(backend.IfVersion(""))
	require.NoError(t, err)
	assert.Equal(t, &storage.Conditions{DoesNotExist: true}, conds)

	conds, err = conditions(backend.IfVersion("1712345"))
	require.NoError(t, err)
	assert.Equal(t, &storage.Conditions{GenerationMatch: 1712345}, conds)

	_, err = conditions(backend.IfVersion("etag-not-a-generation"))
	assert.Error(t, err)
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.True(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusPreconditionFailed}))
	assert.True(t, isPreconditionFailed(fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})))
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isPreconditionFailed(fmt.Errorf("network down")))
}

func TestWriteError(t *testing.T) {
	b := &Backend{bucket: "state-bucket"}
	assert.Equal(t, backend.ErrConflict, b.writeError("x.json", &googleapi.Error{Code: http.StatusPreconditionFailed}))
	assert.Contains(t, b.writeError("x.json", fmt.Errorf("boom")).Error(), "gs://state-bucket/x.json")
}

func TestGCSLock_Info(t *testing.T) {
	lock := &gcsLock{info: backend.LockInfo{ID: "lock-1", Who: "ci"}}
	assert.Equal(t, "lock-1", lock.ID())
	assert.Equal(t, "ci", lock.Info().Who)
}
