// Package checkpoint persists per-epoch training artifacts and restores the
// latest valid one on restart.
//
// An artifact is named by its epoch index inside the checkpoint directory; the
// ledger next to it records which epochs completed. Restore checks both: the
// ledger proposes, the artifact's presence decides.
package checkpoint

import (
	"time"

	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
)

// MetadataVersion is the current artifact format version.
const MetadataVersion = 1

// Tensor is one named parameter or optimizer buffer.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// StateDict is the serialized state of a model or optimizer. Its content is
// opaque to this package.
type StateDict map[string]Tensor

// Stateful is implemented by collaborators whose state goes into an artifact.
type Stateful interface {
	// StateDict returns a snapshot of the current state.
	StateDict() (StateDict, error)

	// SetStateDict replaces the current state.
	SetStateDict(state StateDict) error
}

// EpochSummary records how an epoch went, for inspection tools.
type EpochSummary struct {
	Batches  int             `json:"batches"`
	Samples  int             `json:"samples"`
	MeanLoss float64         `json:"mean_loss"`
	Duration time.Duration   `json:"duration"`
	Values   []metrics.Value `json:"values,omitempty"`
}

// Artifact is everything saved at the end of an epoch.
type Artifact struct {
	Version   int       `json:"version"`
	Epoch     int       `json:"epoch"`
	CreatedAt time.Time `json:"created_at"`

	Model     StateDict `json:"model"`
	Optimizer StateDict `json:"optimizer,omitempty"`

	// Metrics holds accumulator counters at the end of the epoch.
	Metrics map[string]metrics.State `json:"metrics,omitempty"`
	Summary EpochSummary             `json:"summary"`
}

// NewArtifact creates an artifact for epoch stamped with the current version and time.
func NewArtifact(epoch int, model StateDict) *Artifact {
	return &Artifact{
		Version:   MetadataVersion,
		Epoch:     epoch,
		CreatedAt: time.Now().UTC(),
		Model:     model,
	}
}
