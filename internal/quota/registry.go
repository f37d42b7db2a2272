package quota

import "sync"

// PermitRegistry tracks admission decisions for jobs whose lifetime outlives
// the request that admitted them. The handler registers the permit at
// enqueue time; the worker releases it when the job reaches a terminal state.
type PermitRegistry struct {
	mu      sync.Mutex
	permits map[string]*Decision
}

// NewPermitRegistry builds an empty registry.
func NewPermitRegistry() *PermitRegistry {
	return &PermitRegistry{permits: make(map[string]*Decision)}
}

// Register associates an allowed decision with a job id.
func (r *PermitRegistry) Register(jobID string, decision *Decision) {
	if jobID == "" || decision == nil || !decision.Allowed {
		return
	}
	r.mu.Lock()
	r.permits[jobID] = decision
	r.mu.Unlock()
}

// Release frees the permit for a job id, if one is held. Unknown ids are a
// no-op so callers can release unconditionally on every terminal path.
func (r *PermitRegistry) Release(jobID string) {
	r.mu.Lock()
	decision := r.permits[jobID]
	delete(r.permits, jobID)
	r.mu.Unlock()

	decision.Release()
}
