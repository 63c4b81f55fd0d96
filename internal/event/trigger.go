package event

// TriggerTarget names the record kind a trigger command addresses.
type TriggerTarget int32

const (
	TargetPosition TriggerTarget = iota
	TargetOption
)

// SetTrigger adds a take-profit or stop-loss order to a record's book.
type SetTrigger struct {
	Meta

	Index  uint64
	Target TriggerTarget

	TakeProfit     bool
	Price          uint64
	SizePercent    uint16 // bps of the record to close, 1..10_000
	ReceiveInQuote bool
}

func (c *SetTrigger) Type() CommandType { return CommandSetTrigger }

// UpdateTrigger edits an existing order slot in place. Nil pointers keep
// the current values.
type UpdateTrigger struct {
	Meta

	Index  uint64
	Target TriggerTarget

	TakeProfit     bool
	Slot           int
	NewPrice       *uint64
	NewSizePercent *uint16
	NewReceiveIn   *bool
}

func (c *UpdateTrigger) Type() CommandType { return CommandUpdateTrigger }

// RemoveTrigger deactivates an order slot.
type RemoveTrigger struct {
	Meta

	Index  uint64
	Target TriggerTarget

	TakeProfit bool
	Slot       int
}

func (c *RemoveTrigger) Type() CommandType { return CommandRemoveTrigger }
