package task

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jasoet/go-iguazu/task/artifacts"
	"gopkg.in/yaml.v3"
)

// ForcedTasksEnv lists task names that are always recomputed, comma separated.
const ForcedTasksEnv = "IGUAZU_FORCED_TASKS"

// LocalBackendConfig configures a LocalStore.
type LocalBackendConfig struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	BasePath string `json:"base_path" yaml:"base_path" validate:"required"`
	TempPath string `json:"temp_path,omitempty" yaml:"temp_path,omitempty"`
}

// WorkerConfig is the configuration of a task worker process.
type WorkerConfig struct {
	TaskQueue       string                 `json:"task_queue" yaml:"task_queue" validate:"required"`
	ForcedTasks     []string               `json:"forced_tasks,omitempty" yaml:"forced_tasks,omitempty"`
	RunCacheSize    int                    `json:"run_cache_size" yaml:"run_cache_size" validate:"gte=0"`
	MemoryThreshold uint64                 `json:"memory_threshold,omitempty" yaml:"memory_threshold,omitempty"`
	Local           []LocalBackendConfig   `json:"local,omitempty" yaml:"local,omitempty" validate:"dive"`
	S3              []artifacts.S3Config   `json:"s3,omitempty" yaml:"s3,omitempty" validate:"dive"`
	Options         map[string]TaskOptions `json:"options,omitempty" yaml:"options,omitempty" validate:"dive"`
}

// TaskOptions overrides the registered options of one task.
type TaskOptions struct {
	Force         *bool       `json:"force,omitempty" yaml:"force,omitempty"`
	GracefulKinds []ErrorKind `json:"graceful_kinds,omitempty" yaml:"graceful_kinds,omitempty"`
	AutoClean     *bool       `json:"auto_clean_files,omitempty" yaml:"auto_clean_files,omitempty"`
}

// DefaultWorkerConfig returns a config with a local backend rooted in the
// working directory.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		TaskQueue:    "iguazu-tasks",
		RunCacheSize: 1024,
		Local:        []LocalBackendConfig{{Name: "local", BasePath: "data"}},
	}
}

// LoadWorkerConfig reads a YAML config file over the defaults and merges the
// forced task names from the environment.
func LoadWorkerConfig(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ForcedTasks = append(cfg.ForcedTasks, ForcedTasksFromEnv()...)

	if err := cfg.Validate(); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

// ForcedTasksFromEnv returns the task names listed in ForcedTasksEnv.
func ForcedTasksFromEnv() []string {
	var names []string
	for _, name := range strings.Split(os.Getenv(ForcedTasksEnv), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Validate validates the worker config.
func (c *WorkerConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}
	seen := make(map[string]bool)
	for _, l := range c.Local {
		if seen[l.Name] {
			return fmt.Errorf("invalid worker config: duplicate backend %q", l.Name)
		}
		seen[l.Name] = true
	}
	for _, s := range c.S3 {
		name := s.Name
		if name == "" {
			name = "remote"
		}
		if seen[name] {
			return fmt.Errorf("invalid worker config: duplicate backend %q", name)
		}
		seen[name] = true
	}
	return nil
}

// OpenBackends creates every configured backend. S3 stores come from the
// process-wide client pool.
func (c *WorkerConfig) OpenBackends(ctx context.Context) (*artifacts.Registry, error) {
	registry := artifacts.NewRegistry()

	for _, l := range c.Local {
		store, err := artifacts.NewLocalStore(l.Name, l.BasePath, l.TempPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open local backend %s: %w", l.Name, err)
		}
		registry.Register(store)
	}

	for _, s := range c.S3 {
		store, err := artifacts.OpenS3(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("failed to open s3 backend %s: %w", s.Name, err)
		}
		registry.Register(store)
	}

	return registry, nil
}

// Overrides returns the options configured for taskName.
func (c *WorkerConfig) Overrides(taskName string) []Option {
	o, ok := c.Options[taskName]
	if !ok {
		return nil
	}

	var opts []Option
	if o.Force != nil {
		opts = append(opts, WithForce(*o.Force))
	}
	if len(o.GracefulKinds) > 0 {
		opts = append(opts, WithGracefulKinds(o.GracefulKinds...))
	}
	if o.AutoClean != nil {
		opts = append(opts, WithAutoCleanFiles(*o.AutoClean))
	}
	return opts
}
