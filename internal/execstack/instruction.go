package execstack

import "fmt"

// Kind tags what an instruction is processing.
type Kind int

const (
	// KindAction is a plain action on its way to the reducers.
	KindAction Kind = iota + 1
	// KindAsyncAction is an async action function being executed.
	KindAsyncAction
	// KindEpic is a long-lived background stream reacting to actions.
	KindEpic
	// KindSaga is a long-lived background process reacting to actions.
	KindSaga
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindAsyncAction:
		return "async_action"
	case KindEpic:
		return "epic"
	case KindSaga:
		return "saga"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Instruction is the in-flight record for one dispatched unit. It is created
// by the dispatch pipeline, pushed when processing starts and removed when
// processing ends.
type Instruction struct {
	// ID is unique per instruction.
	ID string
	// Seq is the issuance position assigned by the pipeline clock.
	Seq int64
	Kind Kind
	// Instance is the dispatched value (an action or an async action).
	Instance any
	// Context carries optional pipeline data, such as the parent instruction.
	Context any
}

// String renders the instruction for logs.
func (i *Instruction) String() string {
	return fmt.Sprintf("%s#%d(%s)", i.Kind, i.Seq, i.ID)
}
