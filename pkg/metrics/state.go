package metrics

import "strings"

// stateKeySep joins accumulator and counter names in a flattened State.
const stateKeySep = "/"

// State is a named set of counter vectors. Scalar counters are length-1 vectors.
type State map[string][]float64

// Scalar returns the first element of a counter, or 0 when absent.
func (s State) Scalar(name string) float64 {
	vec := s[name]
	if len(vec) == 0 {
		return 0
	}

	return vec[0]
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := make(State, len(s))

	for key, vec := range s {
		out[key] = append([]float64(nil), vec...)
	}

	return out
}

// Prefixed returns the counters stored under prefix + "/", with the prefix removed.
func (s State) Prefixed(prefix string) State {
	out := make(State)
	lead := prefix + stateKeySep

	for key, vec := range s {
		if rest, ok := strings.CutPrefix(key, lead); ok {
			out[rest] = vec
		}
	}

	return out
}

// SumStates adds counters element-wise. Vectors of different lengths are
// summed over the longer length, treating missing elements as zero.
func SumStates(states ...State) State {
	out := make(State)

	for _, state := range states {
		for key, vec := range state {
			acc := out[key]
			if len(acc) < len(vec) {
				grown := make([]float64, len(vec))
				copy(grown, acc)
				acc = grown
			}

			for idx, v := range vec {
				acc[idx] += v
			}

			out[key] = acc
		}
	}

	return out
}
