package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jasoet/go-iguazu/task/artifacts"
)

// Decision is the outcome of the cache check.
type Decision string

const (
	// DecisionReuse returns the previous result without running anything.
	DecisionReuse Decision = "reuse"

	// DecisionRecompute runs the task.
	DecisionRecompute Decision = "recompute"
)

// CachePolicy selects which fingerprints must match for reuse.
// With both fields false a task is always recomputed.
type CachePolicy struct {
	ByInputs     bool `json:"by_inputs" yaml:"by_inputs"`
	ByParameters bool `json:"by_parameters" yaml:"by_parameters"`
}

// DefaultCachePolicy requires both input and parameter fingerprints to match.
var DefaultCachePolicy = CachePolicy{ByInputs: true, ByParameters: true}

// Fingerprints are opaque hashes of a run's inputs and parameters.
type Fingerprints struct {
	Inputs     string `json:"inputs"`
	Parameters string `json:"parameters"`
}

// CacheQuery collects everything Decide looks at.
type CacheQuery struct {
	Forced      bool
	ForcedNames []string
	TaskName    string
	Policy      CachePolicy
	Previous    *Fingerprints
	Current     Fingerprints
}

// Decide returns whether a previous run can be reused. Forcing is checked
// before any fingerprint comparison.
func Decide(q CacheQuery) Decision {
	if q.Forced || slices.Contains(q.ForcedNames, q.TaskName) {
		return DecisionRecompute
	}
	if q.Previous == nil {
		return DecisionRecompute
	}
	if !q.Policy.ByInputs && !q.Policy.ByParameters {
		return DecisionRecompute
	}
	if q.Policy.ByInputs && q.Previous.Inputs != q.Current.Inputs {
		return DecisionRecompute
	}
	if q.Policy.ByParameters && q.Previous.Parameters != q.Current.Parameters {
		return DecisionRecompute
	}
	return DecisionReuse
}

// FingerprintInputs hashes inputs. Artifacts contribute their identity only,
// never their metadata or local cache path.
func FingerprintInputs(inputs Inputs) (string, error) {
	canonical := make(map[string]any, len(inputs))
	for name, v := range inputs {
		canonical[name] = fingerprintValue(v)
	}
	return hashJSON(canonical)
}

// FingerprintParameters hashes an arbitrary JSON-serializable value.
func FingerprintParameters(params any) (string, error) {
	return hashJSON(params)
}

func fingerprintValue(v any) any {
	switch val := v.(type) {
	case *artifacts.Artifact:
		if val == nil {
			return nil
		}
		return map[string]any{
			"backend":  val.BackendName,
			"id":       val.ID,
			"path":     val.Path,
			"filename": val.Filename,
		}
	case Tuple:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fingerprintValue(item)
		}
		return out
	case []*artifacts.Artifact:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fingerprintValue(item)
		}
		return out
	default:
		return v
	}
}

func hashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// RunRecord is what a RunCache remembers about a finished run.
type RunRecord struct {
	Fingerprints Fingerprints `json:"fingerprints"`
	State        State        `json:"state"`
	Result       any          `json:"result,omitempty"`
}

// RunCache stores the previous run of each cache key. Implementations must be
// safe for concurrent use.
type RunCache interface {
	Get(key string) (RunRecord, bool)
	Put(key string, record RunRecord)
}

// LRURunCache is a bounded in-memory RunCache.
type LRURunCache struct {
	cache *lru.Cache
}

// NewLRURunCache creates a cache holding at most size records.
func NewLRURunCache(size int) (*LRURunCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create run cache: %w", err)
	}
	return &LRURunCache{cache: c}, nil
}

// Get returns the record stored for key.
func (c *LRURunCache) Get(key string) (RunRecord, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return RunRecord{}, false
	}
	return v.(RunRecord), true
}

// Put stores record under key, evicting the least recently used entry if full.
func (c *LRURunCache) Put(key string, record RunRecord) {
	c.cache.Add(key, record)
}

// Len returns the number of cached records.
func (c *LRURunCache) Len() int {
	return c.cache.Len()
}
