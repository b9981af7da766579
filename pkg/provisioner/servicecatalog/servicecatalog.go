// Package servicecatalog implements the provisioner contract on AWS Service
// Catalog. Templates are uploaded to S3 and registered as provisioning
// artifacts; instances are provisioned products whose record outputs become
// the captured outputs.
package servicecatalog

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/aws/aws-sdk-go-v2/service/servicecatalog"
	sctypes "github.com/aws/aws-sdk-go-v2/service/servicecatalog/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/provisioner"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

func init() {
	provisioner.Register("servicecatalog", NewProvisioner)
}

// stackARNOutput is added by Service Catalog to every record and is not a
// product output.
const stackARNOutput = "CloudformationStackARN"

// CatalogAPI is the subset of the Service Catalog client in use.
type CatalogAPI interface {
	CreateProvisioningArtifact(ctx context.Context, in *sc.CreateProvisioningArtifactInput, optFns ...func(*sc.Options)) (*sc.CreateProvisioningArtifactOutput, error)
	ProvisionProduct(ctx context.Context, in *sc.ProvisionProductInput, optFns ...func(*sc.Options)) (*sc.ProvisionProductOutput, error)
	UpdateProvisionedProduct(ctx context.Context, in *sc.UpdateProvisionedProductInput, optFns ...func(*sc.Options)) (*sc.UpdateProvisionedProductOutput, error)
	TerminateProvisionedProduct(ctx context.Context, in *sc.TerminateProvisionedProductInput, optFns ...func(*sc.Options)) (*sc.TerminateProvisionedProductOutput, error)
	DescribeRecord(ctx context.Context, in *sc.DescribeRecordInput, optFns ...func(*sc.Options)) (*sc.DescribeRecordOutput, error)
	DescribeProvisionedProduct(ctx context.Context, in *sc.DescribeProvisionedProductInput, optFns ...func(*sc.Options)) (*sc.DescribeProvisionedProductOutput, error)
	GetProvisionedProductOutputs(ctx context.Context, in *sc.GetProvisionedProductOutputsInput, optFns ...func(*sc.Options)) (*sc.GetProvisionedProductOutputsOutput, error)
}

// ObjectAPI uploads templates.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// IdentityAPI resolves the calling account.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Provisioner talks to Service Catalog for one environment.
type Provisioner struct {
	Catalog  CatalogAPI
	Objects  ObjectAPI
	Identity IdentityAPI

	Region    string
	Bucket    string
	AccountID string

	PollInterval time.Duration
	CallTimeout  time.Duration

	// Sleep waits between record polls.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewProvisioner builds AWS clients from the environment's profile and
// region. The template bucket comes from the environment's
// template_bucket config key.
func NewProvisioner(env *catalog.Environment, opts provisioner.Options) (provisioner.Provisioner, error) {
	bucket := env.Config["template_bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("environment %q: servicecatalog provisioner requires 'template_bucket' configuration", env.Name)
	}

	var loadOpts []func(*config.LoadOptions) error
	if env.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(env.Region))
	}
	if env.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(env.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provisioner{
		Catalog:      sc.NewFromConfig(awsCfg),
		Objects:      s3.NewFromConfig(awsCfg),
		Identity:     sts.NewFromConfig(awsCfg),
		Region:       awsCfg.Region,
		Bucket:       bucket,
		AccountID:    env.AccountID,
		PollInterval: opts.PollInterval,
		CallTimeout:  opts.CallTimeout,
	}, nil
}

func (p *Provisioner) Name() string { return "servicecatalog" }

// Check verifies the credentials belong to the configured account.
func (p *Provisioner) Check(ctx context.Context) error {
	out, err := p.Identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return errors.BackendError(p.Name(), "get caller identity", err)
	}
	if p.AccountID != "" && aws.ToString(out.Account) != p.AccountID {
		return errors.New(errors.ErrCodeValidation,
			fmt.Sprintf("credentials belong to account %s, environment expects %s", aws.ToString(out.Account), p.AccountID))
	}
	return nil
}

// PublishVersion uploads the template to <product>/<version>/ in the
// template bucket and registers it as a provisioning artifact named after
// the version.
func (p *Provisioner) PublishVersion(ctx context.Context, req provisioner.PublishRequest) (*provisioner.PublishResult, error) {
	if req.ProductID == "" {
		return nil, fmt.Errorf("no Service Catalog product id configured for %q", req.Product.Name)
	}

	template, err := os.ReadFile(req.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	key := path.Join(req.Product.Name, req.Version, filepath.Base(req.TemplatePath))
	if err := p.upload(ctx, key, template); err != nil {
		return nil, err
	}
	if req.ArchivePath != "" {
		archive, err := os.ReadFile(req.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		if err := p.upload(ctx, path.Join(req.Product.Name, req.Version, filepath.Base(req.ArchivePath)), archive); err != nil {
			return nil, err
		}
	}

	out, err := p.Catalog.CreateProvisioningArtifact(ctx, &sc.CreateProvisioningArtifactInput{
		ProductId:        aws.String(req.ProductID),
		IdempotencyToken: aws.String(uuid.NewString()),
		Parameters: &sctypes.ProvisioningArtifactProperties{
			Name:        aws.String(req.Version),
			Description: aws.String(req.Description),
			Type:        sctypes.ProvisioningArtifactTypeCloudFormationTemplate,
			Info:        map[string]string{"LoadTemplateFromURL": p.templateURL(key)},
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	if out.ProvisioningArtifactDetail == nil || out.ProvisioningArtifactDetail.Id == nil {
		return nil, fmt.Errorf("create provisioning artifact returned no id")
	}
	return &provisioner.PublishResult{VersionID: aws.ToString(out.ProvisioningArtifactDetail.Id)}, nil
}

func (p *Provisioner) upload(ctx context.Context, key string, body []byte) error {
	_, err := p.Objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", p.Bucket, key, classify(err))
	}
	return nil
}

func (p *Provisioner) templateURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.Bucket, p.Region, key)
}

// DeployInstance provisions a new product. When an instance with the same
// name already exists it is updated instead.
func (p *Provisioner) DeployInstance(ctx context.Context, req provisioner.DeployRequest) (*provisioner.DeployResult, error) {
	out, err := p.Catalog.ProvisionProduct(ctx, &sc.ProvisionProductInput{
		ProductId:              aws.String(req.ProductID),
		ProvisioningArtifactId: aws.String(req.VersionID),
		ProvisionedProductName: aws.String(req.InstanceName),
		ProvisionToken:         aws.String(uuid.NewString()),
		ProvisioningParameters: provisioningParameters(req.Parameters),
		Tags:                   tags(req.Tags),
	})
	if err != nil {
		var dup *sctypes.DuplicateResourceException
		if !stderrors.As(err, &dup) {
			return nil, classify(err)
		}
		existing, derr := p.Catalog.DescribeProvisionedProduct(ctx, &sc.DescribeProvisionedProductInput{
			Name: aws.String(req.InstanceName),
		})
		if derr != nil {
			return nil, fmt.Errorf("provisioned product %s exists but cannot be described: %w", req.InstanceName, classify(derr))
		}
		if existing.ProvisionedProductDetail == nil {
			return nil, fmt.Errorf("provisioned product %s exists but has no details: %w", req.InstanceName, classify(err))
		}
		zerolog.Ctx(ctx).Debug().Str("instance", req.InstanceName).Msg("instance already exists, updating")
		req.InstanceID = aws.ToString(existing.ProvisionedProductDetail.Id)
		return p.UpdateInstance(ctx, req)
	}

	instanceID := aws.ToString(out.RecordDetail.ProvisionedProductId)
	outputs, err := p.waitForRecord(ctx, aws.ToString(out.RecordDetail.RecordId))
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		if outputs, err = p.currentOutputs(ctx, instanceID); err != nil {
			return nil, err
		}
	}
	return &provisioner.DeployResult{InstanceID: instanceID, Outputs: outputs}, nil
}

// UpdateInstance updates a provisioned product in place. A missing instance
// is provisioned again; an update with no changes returns the current
// outputs.
func (p *Provisioner) UpdateInstance(ctx context.Context, req provisioner.DeployRequest) (*provisioner.DeployResult, error) {
	out, err := p.Catalog.UpdateProvisionedProduct(ctx, &sc.UpdateProvisionedProductInput{
		ProvisionedProductId:   aws.String(req.InstanceID),
		ProductId:              aws.String(req.ProductID),
		ProvisioningArtifactId: aws.String(req.VersionID),
		ProvisioningParameters: updateParameters(req.Parameters),
		Tags:                   tags(req.Tags),
		UpdateToken:            aws.String(uuid.NewString()),
	})
	if err != nil {
		var notFound *sctypes.ResourceNotFoundException
		if stderrors.As(err, &notFound) {
			req.InstanceID = ""
			return p.DeployInstance(ctx, req)
		}
		if isNoUpdates(err) {
			outputs, oerr := p.currentOutputs(ctx, req.InstanceID)
			if oerr != nil {
				return nil, oerr
			}
			return &provisioner.DeployResult{InstanceID: req.InstanceID, Outputs: outputs}, nil
		}
		return nil, classify(err)
	}

	outputs, err := p.waitForRecord(ctx, aws.ToString(out.RecordDetail.RecordId))
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		if outputs, err = p.currentOutputs(ctx, req.InstanceID); err != nil {
			return nil, err
		}
	}
	return &provisioner.DeployResult{InstanceID: req.InstanceID, Outputs: outputs}, nil
}

// TerminateInstance terminates a provisioned product. An instance that no
// longer exists counts as terminated.
func (p *Provisioner) TerminateInstance(ctx context.Context, req provisioner.TerminateRequest) error {
	out, err := p.Catalog.TerminateProvisionedProduct(ctx, &sc.TerminateProvisionedProductInput{
		ProvisionedProductId: aws.String(req.InstanceID),
		TerminateToken:       aws.String(uuid.NewString()),
	})
	if err != nil {
		var notFound *sctypes.ResourceNotFoundException
		if stderrors.As(err, &notFound) {
			return nil
		}
		return classify(err)
	}
	_, err = p.waitForRecord(ctx, aws.ToString(out.RecordDetail.RecordId))
	return err
}

// waitForRecord polls a record until it succeeds, fails or CallTimeout
// passes, and returns the record outputs.
func (p *Provisioner) waitForRecord(ctx context.Context, recordID string) (map[string]string, error) {
	timeout := p.CallTimeout
	if timeout <= 0 {
		timeout = catalog.DefaultCallTimeout
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = catalog.DefaultPollInterval
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	deadline := time.Now().Add(timeout)
	for {
		out, err := p.Catalog.DescribeRecord(ctx, &sc.DescribeRecordInput{Id: aws.String(recordID)})
		if err != nil {
			return nil, classify(err)
		}
		detail := out.RecordDetail
		if detail == nil {
			return nil, fmt.Errorf("record %s has no detail", recordID)
		}

		switch detail.Status {
		case sctypes.RecordStatusSucceeded:
			return recordOutputs(out.RecordOutputs), nil
		case sctypes.RecordStatusFailed, sctypes.RecordStatusInProgressInError:
			return nil, fmt.Errorf("record %s %s: %s", recordID, detail.Status, recordErrors(detail.RecordErrors))
		}

		if time.Now().After(deadline) {
			return nil, errors.New(errors.ErrCodeTimeout,
				fmt.Sprintf("record %s still %s after %s", recordID, detail.Status, timeout))
		}
		zerolog.Ctx(ctx).Debug().Str("record", recordID).Str("status", string(detail.Status)).Msg("waiting for record")
		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func (p *Provisioner) currentOutputs(ctx context.Context, instanceID string) (map[string]string, error) {
	out, err := p.Catalog.GetProvisionedProductOutputs(ctx, &sc.GetProvisionedProductOutputsInput{
		ProvisionedProductId: aws.String(instanceID),
	})
	if err != nil {
		return nil, classify(err)
	}
	return recordOutputs(out.Outputs), nil
}

func recordOutputs(outputs []sctypes.RecordOutput) map[string]string {
	result := make(map[string]string, len(outputs))
	for _, o := range outputs {
		key := aws.ToString(o.OutputKey)
		if key == "" || key == stackARNOutput {
			continue
		}
		result[key] = aws.ToString(o.OutputValue)
	}
	return result
}

func recordErrors(errs []sctypes.RecordError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, aws.ToString(e.Description))
	}
	return strings.Join(msgs, "; ")
}

func provisioningParameters(params map[string]string) []sctypes.ProvisioningParameter {
	result := make([]sctypes.ProvisioningParameter, 0, len(params))
	for _, k := range sortedKeys(params) {
		result = append(result, sctypes.ProvisioningParameter{Key: aws.String(k), Value: aws.String(params[k])})
	}
	return result
}

func updateParameters(params map[string]string) []sctypes.UpdateProvisioningParameter {
	result := make([]sctypes.UpdateProvisioningParameter, 0, len(params))
	for _, k := range sortedKeys(params) {
		result = append(result, sctypes.UpdateProvisioningParameter{Key: aws.String(k), Value: aws.String(params[k])})
	}
	return result
}

func tags(m map[string]string) []sctypes.Tag {
	result := make([]sctypes.Tag, 0, len(m))
	for _, k := range sortedKeys(m) {
		result = append(result, sctypes.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return result
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isNoUpdates(err error) bool {
	var invalid *sctypes.InvalidParametersException
	if stderrors.As(err, &invalid) {
		return strings.Contains(invalid.ErrorMessage(), "No updates")
	}
	return false
}

// classify marks throttling and in-progress conflicts as transient.
func classify(err error) error {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "Throttling", "TooManyRequestsException", "RequestLimitExceeded":
			return provisioner.Transient(err)
		}
	}
	var state *sctypes.InvalidStateException
	if stderrors.As(err, &state) {
		return provisioner.Transient(err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
