package persist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// filePerm is the permission of written state files.
const filePerm = 0o644

// WriteFile encodes state into path atomically: the data is written to a
// temporary sibling, synced, and renamed over path. A crash leaves either the
// previous file or the complete new one.
func WriteFile(path string, codec Codec, state any) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	buffered := bufio.NewWriter(tmp)

	err = codec.Encode(buffered, state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	err = buffered.Flush()
	if err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}

	err = tmp.Sync()
	if err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}

	err = tmp.Chmod(filePerm)
	if err != nil {
		return fmt.Errorf("chmod state file: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close state file: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}

	committed = true

	return nil
}

// ReadFile decodes the file at path into state, which must be a pointer.
func ReadFile(path string, codec Codec, state any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(bufio.NewReader(file), state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}
