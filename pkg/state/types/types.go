// Package types defines the data structures persisted by the catalogctl
// state store.
package types

import (
	"sort"
	"time"
)

// SchemaVersion is written into every environment document.
const SchemaVersion = "2.0"

// EnvironmentState is the persisted document for one environment.
type EnvironmentState struct {
	SchemaVersion string                    `json:"schema_version"`
	Environment   string                    `json:"environment"`
	Serial        uint64                    `json:"serial"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	Products      map[string]*ProductRecord `json:"products"`
}

// NewEnvironmentState returns an empty document for env.
func NewEnvironmentState(env string) *EnvironmentState {
	return &EnvironmentState{
		SchemaVersion: SchemaVersion,
		Environment:   env,
		Products:      make(map[string]*ProductRecord),
	}
}

// Product returns the record for name, or nil.
func (s *EnvironmentState) Product(name string) *ProductRecord {
	if s == nil || s.Products == nil {
		return nil
	}
	return s.Products[name]
}

// ProductNames returns recorded product names in sorted order.
func (s *EnvironmentState) ProductNames() []string {
	names := make([]string, 0, len(s.Products))
	for name := range s.Products {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeployStatus is the last known deploy state of a product instance.
type DeployStatus string

const (
	DeployStatusNone       DeployStatus = ""
	DeployStatusDeployed   DeployStatus = "deployed"
	DeployStatusTerminated DeployStatus = "terminated"
)

// ProductRecord is the state of one product in one environment.
//
// Publish fields (Fingerprint through PublishedCommit) change only on a
// successful publish. Deploy fields change only on a successful deploy or
// terminate.
type ProductRecord struct {
	Product string `json:"product"`

	// Revision increases by one on every committed change and backs
	// compare-and-set.
	Revision uint64 `json:"revision"`

	// Publish
	Fingerprint     string    `json:"fingerprint,omitempty"`
	Version         string    `json:"version,omitempty"`
	VersionID       string    `json:"version_id,omitempty"` // backend provisioning artifact id
	PublishedAt     time.Time `json:"published_at,omitempty"`
	PublishedCommit string    `json:"published_commit,omitempty"`

	// DependencyVersions holds the version of each dependency at publish
	// time.
	DependencyVersions map[string]string `json:"dependency_versions,omitempty"`

	// Deploy
	InstanceID          string            `json:"instance_id,omitempty"`
	InstanceName        string            `json:"instance_name,omitempty"`
	Outputs             map[string]string `json:"outputs,omitempty"`
	DeployedVersion     string            `json:"deployed_version,omitempty"`
	DeployedFingerprint string            `json:"deployed_fingerprint,omitempty"`
	DeployedAt          time.Time         `json:"deployed_at,omitempty"`
	DeployStatus        DeployStatus      `json:"deploy_status,omitempty"`
	StatusReason        string            `json:"status_reason,omitempty"`
}

// Published reports whether the product has a published version.
func (r *ProductRecord) Published() bool {
	return r != nil && r.Version != ""
}

// Deployed reports whether the product has a live instance.
func (r *ProductRecord) Deployed() bool {
	return r != nil && r.InstanceID != ""
}

// Output returns a captured output value.
func (r *ProductRecord) Output(name string) (string, bool) {
	if r == nil || r.Outputs == nil {
		return "", false
	}
	v, ok := r.Outputs[name]
	return v, ok
}

// Clone returns a deep copy of the record.
func (r *ProductRecord) Clone() *ProductRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Outputs != nil {
		c.Outputs = make(map[string]string, len(r.Outputs))
		for k, v := range r.Outputs {
			c.Outputs[k] = v
		}
	}
	if r.DependencyVersions != nil {
		c.DependencyVersions = make(map[string]string, len(r.DependencyVersions))
		for k, v := range r.DependencyVersions {
			c.DependencyVersions[k] = v
		}
	}
	return &c
}

// ClearDeployment drops instance data after a terminate. Publish history is
// kept.
func (r *ProductRecord) ClearDeployment() {
	r.InstanceID = ""
	r.InstanceName = ""
	r.Outputs = nil
	r.DeployedVersion = ""
	r.DeployedFingerprint = ""
	r.DeployStatus = DeployStatusTerminated
	r.StatusReason = ""
}

// Status is the human readable state of a product in an environment.
type Status string

const (
	StatusNotPublished  Status = "NOT PUBLISHED"
	StatusPendingDeploy Status = "PENDING DEPLOY"
	StatusCodeChanged   Status = "CODE CHANGED"
	StatusOK            Status = "OK"
)

// StatusOf summarizes a record against the product's current fingerprint.
func StatusOf(r *ProductRecord, currentFingerprint string) Status {
	switch {
	case !r.Published():
		return StatusNotPublished
	case currentFingerprint != "" && currentFingerprint != r.Fingerprint:
		return StatusCodeChanged
	case !r.Deployed() || r.DeployedVersion != r.Version:
		return StatusPendingDeploy
	}
	return StatusOK
}
