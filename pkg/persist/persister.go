package persist

// Persister handles I/O for a specific state type using a Codec.
type Persister[T any] struct {
	codec Codec
}

// NewPersister creates a persister for T with the given codec.
func NewPersister[T any](codec Codec) *Persister[T] {
	return &Persister[T]{codec: codec}
}

// Codec returns the codec used by the persister.
func (p *Persister[T]) Codec() Codec {
	return p.codec
}

// Save atomically writes state to path.
func (p *Persister[T]) Save(path string, state *T) error {
	return WriteFile(path, p.codec, state)
}

// Load reads a T from path.
func (p *Persister[T]) Load(path string) (*T, error) {
	var state T

	err := ReadFile(path, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}
