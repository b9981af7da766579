// Package fake implements a scripted in-memory provisioner. Every declared
// output is returned as "<product>-<output>" unless overridden, and failures
// can be injected per operation and product.
//
// The fake is not linked into catalogctl; tests call Register to make it
// available as the "fake" provisioner.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/davidthor/catalogctl/pkg/provisioner"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

// Register adds the fake to the provisioner registry. Failures are read
// from the environment's config as fail: "op:product,...".
func Register() {
	provisioner.Register("fake", func(env *catalog.Environment, opts provisioner.Options) (provisioner.Provisioner, error) {
		p := New()
		for _, entry := range strings.Split(env.Config["fail"], ",") {
			op, product, ok := strings.Cut(strings.TrimSpace(entry), ":")
			if ok {
				p.Fail(Op(op), product, fmt.Errorf("injected %s failure", op))
			}
		}
		return p, nil
	})
}

// Op names a provisioner call.
type Op string

const (
	OpPublish   Op = "publish"
	OpDeploy    Op = "deploy"
	OpUpdate    Op = "update"
	OpTerminate Op = "terminate"
)

// Call records one invocation.
type Call struct {
	Op         Op
	Product    string
	InstanceID string
	Version    string
	VersionID  string
	Parameters map[string]string
	Tags       map[string]string
}

type failure struct {
	err error
	// remaining is how many more calls fail; negative means always.
	remaining int
}

// Provisioner is the fake backend. It is safe for concurrent use.
type Provisioner struct {
	// Delay is slept inside every call.
	Delay time.Duration

	mu        sync.Mutex
	calls     []Call
	failures  map[string]*failure
	outputs   map[string]map[string]string
	instances map[string]string
	versions  int
	active    int
	maxActive int
}

// New creates an empty fake.
func New() *Provisioner {
	return &Provisioner{
		failures:  make(map[string]*failure),
		outputs:   make(map[string]map[string]string),
		instances: make(map[string]string),
	}
}

func (p *Provisioner) Name() string { return "fake" }

// Fail makes every op call for product return err.
func (p *Provisioner) Fail(op Op, product string, err error) {
	p.FailTimes(op, product, -1, err)
}

// FailTimes makes the next n op calls for product return err.
func (p *Provisioner) FailTimes(op Op, product string, n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[string(op)+"/"+product] = &failure{err: err, remaining: n}
}

// SetOutputs replaces the outputs returned for product.
func (p *Provisioner) SetOutputs(product string, outputs map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs[product] = outputs
}

// Calls returns a copy of the recorded calls in order.
func (p *Provisioner) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsFor returns the products touched by op, in call order.
func (p *Provisioner) CallsFor(op Op) []string {
	var products []string
	for _, c := range p.Calls() {
		if c.Op == op {
			products = append(products, c.Product)
		}
	}
	return products
}

// Instances returns live instance ids by product.
func (p *Provisioner) Instances() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.instances))
	for id, product := range p.instances {
		out[product] = id
	}
	return out
}

// MaxConcurrent returns the highest number of overlapping calls seen.
func (p *Provisioner) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

func (p *Provisioner) PublishVersion(ctx context.Context, req provisioner.PublishRequest) (*provisioner.PublishResult, error) {
	done, err := p.begin(ctx, Call{Op: OpPublish, Product: req.Product.Name, Version: req.Version})
	defer done()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions++
	return &provisioner.PublishResult{VersionID: fmt.Sprintf("pa-%04d", p.versions)}, nil
}

func (p *Provisioner) DeployInstance(ctx context.Context, req provisioner.DeployRequest) (*provisioner.DeployResult, error) {
	return p.deploy(ctx, OpDeploy, req)
}

func (p *Provisioner) UpdateInstance(ctx context.Context, req provisioner.DeployRequest) (*provisioner.DeployResult, error) {
	return p.deploy(ctx, OpUpdate, req)
}

func (p *Provisioner) deploy(ctx context.Context, op Op, req provisioner.DeployRequest) (*provisioner.DeployResult, error) {
	done, err := p.begin(ctx, Call{
		Op:         op,
		Product:    req.Product.Name,
		InstanceID: req.InstanceID,
		Version:    req.Version,
		VersionID:  req.VersionID,
		Parameters: copyMap(req.Parameters),
		Tags:       copyMap(req.Tags),
	})
	defer done()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := req.InstanceID
	if id == "" {
		id = "pp-" + req.InstanceName
	}
	p.instances[id] = req.Product.Name

	outputs, ok := p.outputs[req.Product.Name]
	if !ok {
		outputs = make(map[string]string, len(req.Product.Outputs))
		for _, name := range req.Product.Outputs {
			outputs[name] = req.Product.Name + "-" + name
		}
	}
	return &provisioner.DeployResult{InstanceID: id, Outputs: copyMap(outputs)}, nil
}

func (p *Provisioner) TerminateInstance(ctx context.Context, req provisioner.TerminateRequest) error {
	done, err := p.begin(ctx, Call{Op: OpTerminate, Product: req.Product.Name, InstanceID: req.InstanceID})
	defer done()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.instances, req.InstanceID)
	return nil
}

// begin records a call and returns the injected failure, if any.
func (p *Provisioner) begin(ctx context.Context, call Call) (func(), error) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	var err error
	if f, ok := p.failures[string(call.Op)+"/"+call.Product]; ok && f.remaining != 0 {
		err = f.err
		if f.remaining > 0 {
			f.remaining--
		}
	}
	delay := p.Delay
	p.mu.Unlock()

	done := func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return done, ctx.Err()
		}
	}
	return done, err
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
