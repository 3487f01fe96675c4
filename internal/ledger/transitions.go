package ledger

import "fmt"

var transitions = map[Kind]map[Status][]Status{
	KindTransfer: {
		StatusPending: {StatusCompleted, StatusFailed},
	},
	KindDeposit: {
		StatusPending: {StatusCompleted, StatusFailed},
	},
	KindWithdrawal: {
		StatusPending:    {StatusProcessing, StatusFailed},
		StatusProcessing: {StatusCompleted, StatusReversed},
	},
}

// CanTransition reports whether kind allows moving from one status to another.
func CanTransition(kind Kind, from, to Status) bool {
	for _, next := range transitions[kind][from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(kind Kind, from, to Status) error {
	if !CanTransition(kind, from, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, from, to)
	}
	return nil
}

func mergeMetadata(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
