package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{NewJSONCodec(), NewGobCodec(), NewLZ4Codec(NewGobCodec())} {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "5")
			p := NewPersister[weights](codec)
			original := sampleWeights()

			require.NoError(t, p.Save(path, &original))

			restored, err := p.Load(path)
			require.NoError(t, err)
			assert.Equal(t, original, *restored)
			assert.Equal(t, codec, p.Codec())
		})
	}
}

func TestPersister_LoadMissingFile(t *testing.T) {
	t.Parallel()

	p := NewPersister[weights](NewJSONCodec())

	_, err := p.Load(filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersister_SaveInvalidDir(t *testing.T) {
	t.Parallel()

	p := NewPersister[weights](NewJSONCodec())

	err := p.Save("/nonexistent/path/0", &weights{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create")
}

func TestWriteFile_ReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "2")
	codec := NewJSONCodec()

	require.NoError(t, WriteFile(path, codec, weights{Epoch: 1}))
	require.NoError(t, WriteFile(path, codec, weights{Epoch: 2}))

	var loaded weights

	require.NoError(t, ReadFile(path, codec, &loaded))
	assert.Equal(t, 2, loaded.Epoch)

	// No temporary siblings survive a successful write.
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestWriteFile_EncodeErrorLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad")

	err := WriteFile(path, NewJSONCodec(), make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode")

	files, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, files)
}

func TestReadFile_DecodeError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt")
	require.NoError(t, os.WriteFile(path, []byte("not json{{{"), 0o600))

	var state weights

	err := ReadFile(path, NewJSONCodec(), &state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
