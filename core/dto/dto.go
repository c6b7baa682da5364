// Package dto provides the message vocabulary shared by coordinators and participants.
//
// This package defines the message kinds exchanged over the group channel, the
// protocol states of both roles and the terminal outcome returned by a role run.
package dto

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// ErrProtocolViolation is returned when a role receives a message that its current
// state does not allow. It signals a state machine bug, never an environmental fault.
var ErrProtocolViolation = errors.New("protocol violation")

// Violation wraps ErrProtocolViolation with context.
func Violation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocolViolation, format, args...)
}

// ID identifies a process in the group. Lower IDs win coordinator elections.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Role is the name of a group a process joins.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleParticipant Role = "participant"
)

// Kind represents the type of a protocol message.
type Kind int32

const (
	// KindVoteRequest asks participants to vote on the transaction.
	KindVoteRequest Kind = iota + 1
	// KindVoteCommit is a participant vote in favour of committing.
	KindVoteCommit
	// KindVoteAbort is a participant vote against committing.
	KindVoteAbort
	// KindPrepareCommit tells participants that every vote was a commit vote.
	KindPrepareCommit
	// KindReadyCommit acknowledges PREPARE_COMMIT.
	KindReadyCommit
	// KindGlobalCommit is the final commit decision.
	KindGlobalCommit
	// KindGlobalAbort is the final abort decision.
	KindGlobalAbort
	// KindStateAnnouncement is sent by an elected coordinator to announce the state
	// the termination protocol resumes from.
	KindStateAnnouncement
)

var kindNames = map[Kind]string{
	KindVoteRequest:       "VOTE_REQUEST",
	KindVoteCommit:        "VOTE_COMMIT",
	KindVoteAbort:         "VOTE_ABORT",
	KindPrepareCommit:     "PREPARE_COMMIT",
	KindReadyCommit:       "READY_COMMIT",
	KindGlobalCommit:      "GLOBAL_COMMIT",
	KindGlobalAbort:       "GLOBAL_ABORT",
	KindStateAnnouncement: "STATE_ANNOUNCEMENT",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// ParseKind maps a wire name back to a Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown message kind %q", name)
}

// State is a protocol state of a coordinator or participant.
type State string

const (
	StateNew       State = "NEW"
	StateInit      State = "INIT"
	StateWait      State = "WAIT"
	StateReady     State = "READY"
	StatePrecommit State = "PRECOMMIT"
	StateCommit    State = "COMMIT"
	StateAbort     State = "ABORT"
)

// Final reports whether no further transition may leave the state.
func (s State) Final() bool {
	return s == StateCommit || s == StateAbort
}

// ParseState validates a state name received from the wire.
func ParseState(name string) (State, error) {
	switch s := State(name); s {
	case StateNew, StateInit, StateWait, StateReady, StatePrecommit, StateCommit, StateAbort:
		return s, nil
	}
	return "", errors.Errorf("unknown state %q", name)
}

// Decision is the result of the participant's local work.
type Decision string

const (
	LocalSuccess Decision = "LOCAL_SUCCESS"
	LocalAbort   Decision = "LOCAL_ABORT"
)

// Message is an immutable protocol message. State is only set for KindStateAnnouncement.
type Message struct {
	Kind  Kind
	State State
}

// NewMessage creates a message of the given kind without payload.
func NewMessage(kind Kind) Message {
	return Message{Kind: kind}
}

// Announce creates the state announcement of an elected coordinator.
func Announce(state State) Message {
	return Message{Kind: KindStateAnnouncement, State: state}
}

func (m Message) String() string {
	if m.Kind == KindStateAnnouncement {
		return string(m.State)
	}
	return m.Kind.String()
}

// VoteRequest is handed to the local work hooks when the coordinator asks for a vote.
type VoteRequest struct {
	Participant ID
	Coordinator ID
}

// Outcome is the terminal result of a role run.
type Outcome struct {
	Role     Role
	ID       ID
	State    State
	Decision Decision // participants only
	Reason   string
	Crashed  bool
}

// String returns the human-readable description of the outcome.
func (o Outcome) String() string {
	name := "Coordinator"
	if o.Role == RoleParticipant {
		name = "Participant"
	}

	if o.Crashed {
		return fmt.Sprintf("%s crashed in state %s.", name, o.State)
	}

	desc := fmt.Sprintf("%s %s terminated in state %s", name, o.ID, o.State)
	if o.Reason != "" {
		desc += " due to " + o.Reason
	}
	if o.Role == RoleParticipant && o.Decision != "" {
		desc += fmt.Sprintf(". (Own decision was %s)", o.Decision)
		return desc
	}

	return desc + "."
}
