// Package event defines the commands the core consumes and the envelope it
// stamps onto every applied transition before the record leaves the process.
package event

import (
	"github.com/google/uuid"
)

// CommandType discriminates command payloads.
type CommandType int32

const (
	CommandUnknown CommandType = iota

	CommandOpenPosition
	CommandClosePosition
	CommandCancelLimit
	CommandAddCollateral
	CommandRemoveCollateral
	CommandIncreaseSize
	CommandDecreaseSize

	CommandOpenOption
	CommandCloseOption
	CommandExerciseOption
	CommandClaimOption
	CommandEditOption

	CommandOpenFuture
	CommandCloseFuture
	CommandCancelFutureLimit
	CommandClaimFuture

	CommandSetTrigger
	CommandUpdateTrigger
	CommandRemoveTrigger

	CommandPriceUpdate
)

func (t CommandType) String() string {
	switch t {
	case CommandOpenPosition:
		return "OpenPosition"
	case CommandClosePosition:
		return "ClosePosition"
	case CommandCancelLimit:
		return "CancelLimit"
	case CommandAddCollateral:
		return "AddCollateral"
	case CommandRemoveCollateral:
		return "RemoveCollateral"
	case CommandIncreaseSize:
		return "IncreaseSize"
	case CommandDecreaseSize:
		return "DecreaseSize"
	case CommandOpenOption:
		return "OpenOption"
	case CommandCloseOption:
		return "CloseOption"
	case CommandExerciseOption:
		return "ExerciseOption"
	case CommandClaimOption:
		return "ClaimOption"
	case CommandEditOption:
		return "EditOption"
	case CommandOpenFuture:
		return "OpenFuture"
	case CommandCloseFuture:
		return "CloseFuture"
	case CommandCancelFutureLimit:
		return "CancelFutureLimit"
	case CommandClaimFuture:
		return "ClaimFuture"
	case CommandSetTrigger:
		return "SetTrigger"
	case CommandUpdateTrigger:
		return "UpdateTrigger"
	case CommandRemoveTrigger:
		return "RemoveTrigger"
	case CommandPriceUpdate:
		return "PriceUpdate"
	default:
		return "Unknown"
	}
}

// Envelope wraps every applied command in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the core.
	Sequence uint64

	// Stable idempotency key from upstream.
	IdempotencyKey string

	Type CommandType

	// Pool context; empty for global commands.
	Pool string

	// Versioned input timestamp in unix seconds, never wall-clock.
	Timestamp int64

	// Upstream sequence for ordering validation.
	SourceSequence int64

	// SHA-256 of balances after applying this command, chained to the
	// previous envelope's hash.
	StateHash [32]byte
	PrevHash  [32]byte
}

// Command is implemented by every payload the core dispatches.
type Command interface {
	IdempotencyKey() string
	Type() CommandType
	PoolName() string
	SourceSequence() int64
	EventTimestamp() int64
}

// Meta carries the fields shared by every user command. Embedding it
// satisfies all of Command except Type.
type Meta struct {
	CommandID uuid.UUID // idempotency key
	Owner     uuid.UUID
	Pool      string
	Seq       int64 // upstream ordering key
	Timestamp int64 // versioned input timestamp, unix seconds
}

func (m *Meta) IdempotencyKey() string { return m.CommandID.String() }
func (m *Meta) PoolName() string       { return m.Pool }
func (m *Meta) SourceSequence() int64  { return m.Seq }
func (m *Meta) EventTimestamp() int64  { return m.Timestamp }
