package azurerm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/state/backend"
)

const azuriteConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]string
		wantErr string
	}{
		{
			name:    "missing storage account",
			config:  map[string]string{"container_name": "state"},
			wantErr: "storage_account_name",
		},
		{
			name:    "missing container",
			config:  map[string]string{"storage_account_name": "acct"},
			wantErr: "container_name",
		},
		{
			name: "connection string",
			config: map[string]string{
				"storage_account_name": "devstoreaccount1",
				"container_name":       "state",
				"connection_string":    azuriteConnectionString,
			},
		},
		{
			name: "sas token",
			config: map[string]string{
				"storage_account_name": "acct",
				"container_name":       "state",
				"sas_token":            "?sv=2022-11-02&sig=abc",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBackend(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error to mention %q, got: %v", tt.wantErr, err)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "azurerm", b.Type())
		})
	}
}

func TestBackend_fullPath(t *testing.T) {
	b := &Backend{prefix: "catalogctl"}
	assert.Equal(t, "catalogctl/environments/dev/deploy.state.json", b.fullPath("environments/dev/deploy.state.json"))

	b = &Backend{}
	assert.Equal(t, "environments/dev/deploy.state.json", b.fullPath("environments/dev/deploy.state.json"))
}

func TestAccessConditions(t *testing.T) {
	assert.Nil(t, accessConditions(backend.Precondition{}))

	absent := accessConditions(backend.IfVersion(""))
	require.NotNil(t, absent)
	assert.Equal(t, azcore.ETagAny, *absent.ModifiedAccessConditions.IfNoneMatch)
	assert.Nil(t, absent.ModifiedAccessConditions.IfMatch)

	match := accessConditions(backend.IfVersion(`"0x8DC1"`))
	require.NotNil(t, match)
	assert.Equal(t, azcore.ETag(`"0x8DC1"`), *match.ModifiedAccessConditions.IfMatch)
	assert.Nil(t, match.ModifiedAccessConditions.IfNoneMatch)
}

func TestErrorClassification(t *testing.T) {
	conditionNotMet := &azcore.ResponseError{StatusCode: http.StatusPreconditionFailed, ErrorCode: string(bloberror.ConditionNotMet)}
	alreadyExists := &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: string(bloberror.BlobAlreadyExists)}
	notFound := &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: string(bloberror.BlobNotFound)}

	assert.True(t, isConditionFailed(conditionNotMet))
	assert.True(t, isConditionFailed(fmt.Errorf("upload: %w", alreadyExists)))
	assert.False(t, isConditionFailed(notFound))
	assert.False(t, isConditionFailed(errors.New("dial tcp: timeout")))

	assert.True(t, isNotFound(notFound))
	assert.True(t, isNotFound(&azcore.ResponseError{StatusCode: http.StatusNotFound}))
	assert.False(t, isNotFound(conditionNotMet))
}

func TestEtagString(t *testing.T) {
	assert.Equal(t, "", etagString(nil))
	assert.Equal(t, `"abc"`, etagString(toPtr(azcore.ETag(`"abc"`))))
}

func TestAzureLock(t *testing.T) {
	lock := &azureLock{info: backend.LockInfo{ID: "lock-1", Who: "ci", Operation: "deploy"}}
	assert.Equal(t, "lock-1", lock.ID())
	assert.Equal(t, "deploy", lock.Info().Operation)
}
