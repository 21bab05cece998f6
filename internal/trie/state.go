package trie

// State tracks, along one insertion, whether a node's weight was already
// counted by an earlier window of the same sequence.
//
//	current | prefix edge | suffix edge
//	L       | L           | LR
//	LR      | X           | LR
//	X       | X           | X
//
// Nodes reached in state X are only located, never created or counted.
type State uint8

const (
	StateL State = iota
	StateLR
	StateX
)

// Prefix is the state of the history node.
func (s State) Prefix() State {
	if s == StateL {
		return StateL
	}
	return StateX
}

// Suffix is the state of the backoff node.
func (s State) Suffix() State {
	if s == StateX {
		return StateX
	}
	return StateLR
}

func (s State) String() string {
	switch s {
	case StateL:
		return "L"
	case StateLR:
		return "LR"
	case StateX:
		return "X"
	}
	return "State(?)"
}
