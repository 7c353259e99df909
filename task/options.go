package task

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jasoet/go-iguazu/task/artifacts"
	"github.com/jasoet/go-iguazu/task/table"
)

// ManagedInput registers a parameter whose artifact value is replaced by the
// table stored under Key before the task runs.
type ManagedInput struct {
	Key  string            `json:"key" yaml:"key" validate:"required"`
	Read table.ReadOptions `json:"read,omitempty" yaml:"read,omitempty"`
}

// Options is the per-instance configuration of a managed task.
type Options struct {
	// Force always recomputes, ignoring previous results.
	Force bool `json:"force" yaml:"force"`

	// GracefulKinds are recovered locally in addition to the framework defaults.
	GracefulKinds []ErrorKind `json:"graceful_kinds,omitempty" yaml:"graceful_kinds,omitempty"`

	// JournalFamily names the metadata family holding the journal.
	JournalFamily string `json:"journal_family" yaml:"journal_family" validate:"required"`

	// ManagedInputs maps parameter names to their container keys.
	ManagedInputs map[string]ManagedInput `json:"managed_inputs,omitempty" yaml:"managed_inputs,omitempty" validate:"dive"`

	// ManagedInputsErrorKind is raised when a managed input cannot be read.
	// Empty means log the problem and pass the artifact through unchanged.
	ManagedInputsErrorKind ErrorKind `json:"managed_inputs_error_kind,omitempty" yaml:"managed_inputs_error_kind,omitempty"`

	// AutoCleanFiles removes local copies of remote artifacts after the task.
	AutoCleanFiles bool `json:"auto_clean_files" yaml:"auto_clean_files"`

	// Cache selects which fingerprints must match for a previous run to be reused.
	Cache CachePolicy `json:"cache" yaml:"cache"`
}

// DefaultGracefulKinds are always recovered, whatever the configuration.
var DefaultGracefulKinds = []ErrorKind{
	KindPreconditionFailed,
	KindGracefulFailWithPartialResults,
}

// Option is a functional option for configuring Options.
type Option func(*Options)

// WithForce configures whether previous results are ignored.
//
// Example:
//
//	opts, err := NewOptions(WithForce(true))
func WithForce(force bool) Option {
	return func(o *Options) {
		o.Force = force
	}
}

// WithGracefulKinds adds error kinds that finish the task with a FAILED
// journal instead of propagating.
func WithGracefulKinds(kinds ...ErrorKind) Option {
	return func(o *Options) {
		o.GracefulKinds = append(o.GracefulKinds, kinds...)
	}
}

// WithJournalFamily sets the metadata family used for the journal.
func WithJournalFamily(family string) Option {
	return func(o *Options) {
		o.JournalFamily = family
	}
}

// WithManagedInput registers param as a managed input read from key.
//
// Example:
//
//	opts, err := NewOptions(
//	    WithManagedInput("signals", "/ecg/raw", table.ReadOptions{}),
//	    WithManagedInputsErrorKind(KindSoftPreconditionFailed))
func WithManagedInput(param, key string, read table.ReadOptions) Option {
	return func(o *Options) {
		if o.ManagedInputs == nil {
			o.ManagedInputs = make(map[string]ManagedInput)
		}
		o.ManagedInputs[param] = ManagedInput{Key: key, Read: read}
	}
}

// WithManagedInputsErrorKind sets the kind raised for unreadable managed inputs.
func WithManagedInputsErrorKind(kind ErrorKind) Option {
	return func(o *Options) {
		o.ManagedInputsErrorKind = kind
	}
}

// WithAutoCleanFiles enables removal of local copies of remote artifacts.
func WithAutoCleanFiles(clean bool) Option {
	return func(o *Options) {
		o.AutoCleanFiles = clean
	}
}

// WithCachePolicy selects the fingerprints compared for cache reuse.
func WithCachePolicy(policy CachePolicy) Option {
	return func(o *Options) {
		o.Cache = policy
	}
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		JournalFamily: artifacts.DefaultJournalFamily,
		Cache:         DefaultCachePolicy,
	}
}

// NewOptions applies opts over DefaultOptions and validates the result.
func NewOptions(opts ...Option) (Options, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Validate validates the options.
func (o *Options) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid task options: %w", err)
	}
	return nil
}

// IsGraceful reports whether kind is recovered locally.
func (o *Options) IsGraceful(kind ErrorKind) bool {
	for _, g := range DefaultGracefulKinds {
		if kind.Is(g) {
			return true
		}
	}
	for _, g := range o.GracefulKinds {
		if kind.Is(g) {
			return true
		}
	}
	return false
}
