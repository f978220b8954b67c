package documents

// Lifecycle is the shared document state machine. Legal moves and their
// preconditions live in one table so adding a document type is a data
// change, not a search through handler branches.

type precondition func(*Document) error

var lifecycle = map[DocumentState]map[DocumentState]precondition{
	StateDraft: {
		StateConfirmed: confirmPrecondition,
		StateCancelled: nil,
	},
	StateConfirmed: {
		StatePartiallyFulfilled: nil,
		StateFulfilled:          nil,
		StateCancelled:          nil,
	},
	StatePartiallyFulfilled: {
		StateFulfilled: nil,
		StateCancelled: nil,
	},
	// Fulfilled is terminal except for the explicitly modelled cancellation
	// path, which compensates any stock movements with a reversal.
	StateFulfilled: {
		StateCancelled: nil,
	},
	StateCancelled: {},
}

func confirmPrecondition(doc *Document) error {
	if !doc.HasActiveLine() {
		return &InvalidTransitionError{
			DocumentID: doc.ID,
			Current:    doc.State,
			Requested:  StateConfirmed,
			Reason:     "at least one line with quantity > 0 required",
		}
	}
	if doc.Type.Monetary() && doc.Totals.GrandTotal <= 0 {
		return &InvalidTransitionError{
			DocumentID: doc.ID,
			Current:    doc.State,
			Requested:  StateConfirmed,
			Reason:     "grand total must be positive",
		}
	}
	return nil
}

// CanTransition validates the move from the document's current state to
// target, including the preconditions attached to the edge. A nil return
// means the transition is legal; the document itself is never touched here.
func CanTransition(doc *Document, target DocumentState) error {
	if !ValidState(target) {
		return &ValidationError{Field: "target", Reason: "unknown state " + string(target)}
	}
	edges, ok := lifecycle[doc.State]
	if !ok {
		return &InvalidTransitionError{DocumentID: doc.ID, Current: doc.State, Requested: target, Reason: "unknown current state"}
	}
	check, ok := edges[target]
	if !ok {
		return &InvalidTransitionError{DocumentID: doc.ID, Current: doc.State, Requested: target}
	}
	if check != nil {
		return check(doc)
	}
	return nil
}

// Terminal reports whether no further transitions leave the state.
func Terminal(state DocumentState) bool {
	return len(lifecycle[state]) == 0
}
