package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Sumatoshi-tech/trainkit/pkg/ledger"
	"github.com/Sumatoshi-tech/trainkit/pkg/persist"
)

// Directory permissions for checkpoints.
const dirPerm = 0o750

// ErrArtifactMissing is returned when no artifact exists for an epoch.
var ErrArtifactMissing = errors.New("artifact missing")

// Store reads and writes artifacts named by epoch index in a directory.
type Store struct {
	dir       string
	persister *persist.Persister[Artifact]
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, codec persist.Codec) *Store {
	return &Store{
		dir:       dir,
		persister: persist.NewPersister[Artifact](codec),
	}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Codec returns the artifact codec.
func (s *Store) Codec() persist.Codec {
	return s.persister.Codec()
}

// Path returns the artifact path for epoch: the directory joined with the
// epoch index, without extension.
func (s *Store) Path(epoch int) string {
	return filepath.Join(s.dir, strconv.Itoa(epoch))
}

// Exists implements [ledger.ArtifactChecker].
func (s *Store) Exists(epoch int) bool {
	return ledger.DirArtifacts(s.dir).Exists(epoch)
}

// Save atomically writes the artifact under its own epoch.
func (s *Store) Save(artifact *Artifact) error {
	err := os.MkdirAll(s.dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	err = s.persister.Save(s.Path(artifact.Epoch), artifact)
	if err != nil {
		return fmt.Errorf("save artifact %d: %w", artifact.Epoch, err)
	}

	return nil
}

// Load reads the artifact stored for epoch.
func (s *Store) Load(epoch int) (*Artifact, error) {
	if !s.Exists(epoch) {
		return nil, fmt.Errorf("%w: epoch %d", ErrArtifactMissing, epoch)
	}

	artifact, err := s.persister.Load(s.Path(epoch))
	if err != nil {
		return nil, fmt.Errorf("load artifact %d: %w", epoch, err)
	}

	return artifact, nil
}

// Stat returns file information for the artifact of epoch.
func (s *Store) Stat(epoch int) (os.FileInfo, error) {
	info, err := os.Stat(s.Path(epoch))
	if err != nil {
		return nil, fmt.Errorf("stat artifact %d: %w", epoch, err)
	}

	return info, nil
}

// Remove deletes the artifact of epoch. A missing artifact is not an error.
func (s *Store) Remove(epoch int) error {
	err := os.Remove(s.Path(epoch))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %d: %w", epoch, err)
	}

	return nil
}
