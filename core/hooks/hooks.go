// Package hooks provides an extensible hook system for the participant's local work.
//
// Hooks decide the local vote when the coordinator requests one and observe the
// terminal outcome, so custom validation, metrics collection and business logic can
// run without modifying the protocol core.
package hooks

import (
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/dto"
)

// DefaultHook provides the default logging behavior
type DefaultHook struct{}

// NewDefaultHook creates a new default hook instance
func NewDefaultHook() *DefaultHook {
	return &DefaultHook{}
}

// OnVoteRequest implements the Hook interface for vote requests
func (h *DefaultHook) OnVoteRequest(req *dto.VoteRequest) bool {
	log.Infof("local work of participant %s is OK", req.Participant)
	return true
}

// OnOutcome implements the Hook interface for terminal outcomes
func (h *DefaultHook) OnOutcome(o *dto.Outcome) {
	log.Infof("participant %s finished in state %s", o.ID, o.State)
}
