package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductRecord_Clone(t *testing.T) {
	rec := &ProductRecord{
		Product: "networking",
		Outputs: map[string]string{"VpcId": "vpc-123"},
	}
	c := rec.Clone()
	c.Outputs["VpcId"] = "vpc-999"

	assert.Equal(t, "vpc-123", rec.Outputs["VpcId"])
	assert.Nil(t, (*ProductRecord)(nil).Clone())
}

func TestProductRecord_ClearDeploymentKeepsPublishHistory(t *testing.T) {
	now := time.Now()
	rec := &ProductRecord{
		Product:         "database",
		Fingerprint:     "abc",
		Version:         "2024.01.02.030405",
		PublishedAt:     now,
		InstanceID:      "pp-123",
		InstanceName:    "dev-database",
		Outputs:         map[string]string{"DatabaseEndpoint": "db.local"},
		DeployedVersion: "2024.01.02.030405",
		DeployStatus:    DeployStatusDeployed,
	}
	rec.ClearDeployment()

	assert.False(t, rec.Deployed())
	assert.True(t, rec.Published())
	assert.Empty(t, rec.Outputs)
	assert.Equal(t, "abc", rec.Fingerprint)
	assert.Equal(t, DeployStatusTerminated, rec.DeployStatus)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name        string
		rec         *ProductRecord
		fingerprint string
		want        Status
	}{
		{"no record", nil, "f1", StatusNotPublished},
		{"published only", &ProductRecord{Version: "v1", Fingerprint: "f1"}, "f1", StatusPendingDeploy},
		{"code changed", &ProductRecord{Version: "v1", Fingerprint: "f1", InstanceID: "i", DeployedVersion: "v1"}, "f2", StatusCodeChanged},
		{"older version deployed", &ProductRecord{Version: "v2", Fingerprint: "f1", InstanceID: "i", DeployedVersion: "v1"}, "f1", StatusPendingDeploy},
		{"ok", &ProductRecord{Version: "v1", Fingerprint: "f1", InstanceID: "i", DeployedVersion: "v1"}, "f1", StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.rec, tt.fingerprint); got != tt.want {
				t.Errorf("StatusOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnvironmentState_JSON(t *testing.T) {
	s := NewEnvironmentState("dev")
	s.Products["networking"] = &ProductRecord{Product: "networking", Revision: 2, Version: "v1"}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"schema_version":"2.0"`)

	var decoded EnvironmentState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "v1", decoded.Product("networking").Version)
	assert.Nil(t, decoded.Product("missing"))
	assert.Equal(t, []string{"networking"}, decoded.ProductNames())
}
