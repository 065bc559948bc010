package dialog

import "strings"

// MethodControlThinking inserts Control("thinking") after the system turn.
const MethodControlThinking = "control/thinking"

// Reasoning maps model name prefixes to the method that switches on their
// reasoning mode.
type Reasoning map[string]string

func DefaultReasoning() Reasoning {
	return Reasoning{
		"granite3.2": MethodControlThinking,
		"granite3.3": MethodControlThinking,
	}
}

// Lookup returns the method for the longest matching prefix of model.
func (r Reasoning) Lookup(model string) (string, bool) {
	model = strings.ToLower(strings.TrimSpace(model))

	var best, method string
	for prefix, m := range r {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, method = prefix, m
		}
	}
	return method, best != ""
}

func (r Reasoning) turns(model string) []Turn {
	method, ok := r.Lookup(model)
	if !ok {
		return nil
	}
	switch method {
	case MethodControlThinking:
		return []Turn{{Role: Control, Content: "thinking"}}
	}
	return nil
}
