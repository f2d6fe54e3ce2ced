package persist

// Persister handles I/O for a specific snapshot type using a Codec.
type Persister[T any] struct {
	basename string
	codec    Codec
}

// NewPersister creates a persister with the given basename and codec.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{
		basename: basename,
		codec:    codec,
	}
}

// Save writes the snapshot produced by build to the given directory.
func (p *Persister[T]) Save(dir string, build func() *T) error {
	return SaveState(dir, p.basename, p.codec, build())
}

// Load restores a snapshot from the given directory and hands it to
// restore. The file must have been written with the same codec.
func (p *Persister[T]) Load(dir string, restore func(*T)) error {
	var state T

	err := LoadState(dir, p.basename, p.codec, &state)
	if err != nil {
		return err
	}

	restore(&state)

	return nil
}
