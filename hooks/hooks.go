// Package hooks implements the pipeline's staged hook registry and
// the semantic tracker that observes (without mutating) a request's
// progress across snapshot stages.
package hooks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Stage names a point in the pipeline where registered hooks run.
type Stage string

const (
	StagePipelinePreprocessing Stage = "PIPELINE_PREPROCESSING"
	StageRequestPreprocessing  Stage = "REQUEST_PREPROCESSING"
	StageResponsePostprocessing Stage = "RESPONSE_POSTPROCESSING"
	StageResponseValidation    Stage = "RESPONSE_VALIDATION"
	StageErrorHandling         Stage = "ERROR_HANDLING"
	StageFinalization          Stage = "FINALIZATION"
)

// MutableData is the per-request scratch space hooks read and write.
// Aborted, once set, short-circuits remaining hooks in the stage.
type MutableData struct {
	mu       sync.Mutex
	Values   map[string]any
	Aborted  bool
	AbortErr error
}

// NewMutableData returns an empty MutableData ready for one stage walk.
func NewMutableData() *MutableData {
	return &MutableData{Values: make(map[string]any)}
}

// Set stores a value under key, safe for concurrent hook access.
func (d *MutableData) Set(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Values[key] = value
}

// Get retrieves a value previously set under key.
func (d *MutableData) Get(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.Values[key]
	return v, ok
}

// Abort marks the stage as aborted with err, read by Invoke after each
// hook call to decide whether to stop walking the remaining hooks.
func (d *MutableData) Abort(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Aborted = true
	d.AbortErr = err
}

func (d *MutableData) isAborted() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Aborted, d.AbortErr
}

// Hook is one unit of staged, non-core pipeline behavior.
type Hook struct {
	Name     string
	Priority int  // lower runs first
	Critical bool // an error here fails the request even outside RESPONSE_VALIDATION
	Debug    bool // errors here are logged, never abort
	Timeout  time.Duration

	Run func(ctx context.Context, data *MutableData) error
}

// Registry holds hooks grouped by Stage, sorted by Priority.
type Registry struct {
	mu    sync.RWMutex
	byStage map[Stage][]Hook
}

// NewRegistry constructs an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{byStage: make(map[Stage][]Hook)}
}

// Register adds a hook to a stage, keeping the stage's slice sorted by
// Priority (ties broken by registration order).
func (r *Registry) Register(stage Stage, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byStage[stage] = append(r.byStage[stage], h)
	sort.SliceStable(r.byStage[stage], func(i, j int) bool {
		return r.byStage[stage][i].Priority < r.byStage[stage][j].Priority
	})
}

// Invoke walks a stage's hooks in priority order, applying a per-hook
// timeout (default 5s) and stopping early if a hook sets data.Aborted.
// RESPONSE_VALIDATION hooks and any hook tagged Critical propagate an
// abort as the returned error; Debug-tagged hooks never abort on
// error, they only report it via the returned slice of non-fatal errors.
func (r *Registry) Invoke(ctx context.Context, stage Stage, data *MutableData) ([]error, error) {
	r.mu.RLock()
	hooks := make([]Hook, len(r.byStage[stage]))
	copy(hooks, r.byStage[stage])
	r.mu.RUnlock()

	var nonFatal []error
	for _, h := range hooks {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, timeout)
		err := h.Run(hookCtx, data)
		cancel()

		if err != nil {
			if h.Debug {
				nonFatal = append(nonFatal, err)
			} else if h.Critical || stage == StageResponseValidation {
				return nonFatal, err
			} else {
				nonFatal = append(nonFatal, err)
			}
		}

		if aborted, abortErr := data.isAborted(); aborted {
			if h.Debug {
				continue
			}
			if abortErr != nil {
				return nonFatal, abortErr
			}
			return nonFatal, nil
		}
	}
	return nonFatal, nil
}
