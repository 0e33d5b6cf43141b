package processors

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/stagehand/pkg/schema"
)

// Registration is a type-erased Definition.
type Registration interface {
	Identity() string
	Description() string
	InputSchema() schema.Descriptor
	OutputSchema() schema.Descriptor
	ConfigSchema() schema.Descriptor
	// New validates rawConfig and constructs the processor. It fails with a
	// *schema.ValidationError before the processor exists when the
	// configuration is invalid.
	New(rawConfig map[string]interface{}, b Bindings) (Runnable, error)
}

// Runnable is a constructed processor operating on raw mappings.
type Runnable interface {
	Identity() string
	// Run validates rawInput, processes it and returns the encoded output.
	Run(ctx context.Context, rawInput map[string]interface{}) (map[string]interface{}, error)
	SessionStateToPersist() SessionState
}

type registration[I, O, C any] struct {
	def Definition[I, O, C]
}

func (r *registration[I, O, C]) Identity() string               { return r.def.Identity }
func (r *registration[I, O, C]) Description() string            { return r.def.Description }
func (r *registration[I, O, C]) InputSchema() schema.Descriptor  { return r.def.Input }
func (r *registration[I, O, C]) OutputSchema() schema.Descriptor { return r.def.Output }
func (r *registration[I, O, C]) ConfigSchema() schema.Descriptor { return r.def.Config }

func (r *registration[I, O, C]) New(rawConfig map[string]interface{}, b Bindings) (Runnable, error) {
	if rawConfig == nil {
		rawConfig = map[string]interface{}{}
	}
	config, err := r.def.Config.Decode(rawConfig)
	if err != nil {
		return nil, err
	}
	if b.Metadata.Identity == "" {
		b.Metadata.Identity = r.def.Identity
	}

	p, err := r.def.New(config, b)
	if err != nil {
		return nil, errors.Wrapf(err, "construct %s", r.def.Identity)
	}
	if p.Identity() != r.def.Identity {
		return nil, errors.Errorf("processor registered as %s reports identity %s", r.def.Identity, p.Identity())
	}
	return &runnable[I, O, C]{def: r.def, processor: p}, nil
}

type runnable[I, O, C any] struct {
	def       Definition[I, O, C]
	processor Processor[I, O, C]
}

func (r *runnable[I, O, C]) Identity() string {
	return r.processor.Identity()
}

func (r *runnable[I, O, C]) SessionStateToPersist() SessionState {
	return r.processor.SessionStateToPersist()
}

func (r *runnable[I, O, C]) Run(ctx context.Context, rawInput map[string]interface{}) (map[string]interface{}, error) {
	if rawInput == nil {
		rawInput = map[string]interface{}{}
	}
	input, err := r.def.Input.Decode(rawInput)
	if err != nil {
		return nil, err
	}

	output, err := r.processor.Process(ctx, input)
	if err != nil {
		return nil, err
	}
	return r.def.Output.Encode(output)
}

// Registry maps identities to registrations. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{registrations: map[string]Registration{}}
}

// Register adds def to r.
func Register[I, O, C any](r *Registry, def Definition[I, O, C]) error {
	switch {
	case def.Identity == "":
		return errors.New("register processor: empty identity")
	case def.Input == nil || def.Output == nil || def.Config == nil:
		return errors.Errorf("register processor %s: missing schema", def.Identity)
	case def.New == nil:
		return errors.Errorf("register processor %s: missing constructor", def.Identity)
	}
	return r.Add(&registration[I, O, C]{def: def})
}

// MustRegister is Register for init-time tables.
func MustRegister[I, O, C any](r *Registry, def Definition[I, O, C]) {
	if err := Register(r, def); err != nil {
		panic(err)
	}
}

func (r *Registry) Add(reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registrations[reg.Identity()]; ok {
		return errors.Wrap(ErrDuplicateProcessor, reg.Identity())
	}
	r.registrations[reg.Identity()] = reg
	return nil
}

func (r *Registry) Lookup(identity string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[identity]
	if !ok {
		return nil, errors.Wrap(ErrUnknownProcessor, identity)
	}
	return reg, nil
}

// List returns the registrations sorted by identity.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]Registration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		ret = append(ret, reg)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Identity() < ret[j].Identity()
	})
	return ret
}

func (r *Registry) Identities() []string {
	regs := r.List()
	ret := make([]string, 0, len(regs))
	for _, reg := range regs {
		ret = append(ret, reg.Identity())
	}
	return ret
}
