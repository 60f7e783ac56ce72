package driver

import "github.com/go-completio/completio/op"

// Operation pairs a typed opcode with the token a caller uses to recognize
// its completion. O is retained only for the generic TryPush entry point;
// the driver stores and dispatches every operation through its op.Opcode
// interface once accepted.
type Operation[O op.Opcode] struct {
	Token uint64
	Op    O
}

// NewOperation wraps opcode with token for submission via TryPush.
func NewOperation[O op.Opcode](token uint64, opcode O) Operation[O] {
	return Operation[O]{Token: token, Op: opcode}
}

// OpObject is the type-erased counterpart of Operation, accepted by
// TryPushDyn and by PushQueue. Callers that don't need the generic type
// parameter (e.g. building a heterogeneous backlog) construct this directly.
type OpObject struct {
	Token uint64
	Op    op.Opcode
}

// NewOpObject wraps opcode with token for submission via TryPushDyn or
// PushQueue.
func NewOpObject(token uint64, opcode op.Opcode) OpObject {
	return OpObject{Token: token, Op: opcode}
}
