package hooks

import (
	"github.com/vadiminshakov/threepc/core/dto"
)

// Hook defines the interface for local work hooks.
type Hook interface {
	// OnVoteRequest performs local work; false means LOCAL_ABORT.
	OnVoteRequest(req *dto.VoteRequest) bool
	OnOutcome(o *dto.Outcome)
}

// Registry manages a collection of hooks.
type Registry struct {
	hooks []Hook
}

// NewRegistry creates a new hook registry.
func NewRegistry(hooks ...Hook) *Registry {
	r := &Registry{
		hooks: make([]Hook, 0, len(hooks)),
	}
	for _, h := range hooks {
		r.Register(h)
	}
	return r
}

// Register adds a new hook to the registry.
func (r *Registry) Register(hook Hook) {
	r.hooks = append(r.hooks, hook)
}

// ExecuteVoteRequest runs all registered vote hooks and returns the local decision.
// The decision is LOCAL_ABORT as soon as any hook returns false.
func (r *Registry) ExecuteVoteRequest(req *dto.VoteRequest) dto.Decision {
	for _, hook := range r.hooks {
		if !hook.OnVoteRequest(req) {
			return dto.LocalAbort
		}
	}
	return dto.LocalSuccess
}

// ExecuteOutcome notifies all hooks about the terminal outcome.
func (r *Registry) ExecuteOutcome(o *dto.Outcome) {
	for _, hook := range r.hooks {
		hook.OnOutcome(o)
	}
}

// Count returns the number of registered hooks
func (r *Registry) Count() int {
	return len(r.hooks)
}
