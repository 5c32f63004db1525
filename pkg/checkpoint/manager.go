package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/trainkit/pkg/ledger"
	"github.com/Sumatoshi-tech/trainkit/pkg/persist"
)

// DefaultDir is the checkpoint directory used when none is configured.
const DefaultDir = "/checkpoint/"

const tracerName = "trainkit/checkpoint"

// Sentinel errors reported as restore warnings.
var (
	ErrArtifactLoad   = errors.New("artifact load failed")
	ErrLedgerMismatch = errors.New("ledger and artifact epoch differ")
)

// ErrNilArtifact is returned by Save when no artifact is given.
var ErrNilArtifact = errors.New("nil artifact")

// Resume is the outcome of a restore attempt.
type Resume struct {
	// Epoch is the last completed epoch, or [ledger.NoCheckpoint] to start fresh.
	Epoch int

	// LedgerEpoch is the epoch the ledger proposed before the artifact was read.
	LedgerEpoch int

	// Artifact is the loaded artifact; nil when starting fresh.
	Artifact *Artifact

	// Warnings lists non-fatal problems found while restoring.
	Warnings []error
}

// Resumed reports whether training continues from a saved epoch.
func (r Resume) Resumed() bool {
	return r.Epoch != ledger.NoCheckpoint
}

// Manager ties the artifact store to the completion ledger.
type Manager struct {
	// KeepLast bounds how many artifacts survive a save. Zero keeps all.
	KeepLast int

	// Logger receives restore and save diagnostics. Nil discards them.
	Logger *slog.Logger

	store  *Store
	ledger *ledger.Ledger
}

// NewManager creates a manager for dir using codec for artifacts.
func NewManager(dir string, codec persist.Codec) *Manager {
	return &Manager{
		store:  NewStore(dir, codec),
		ledger: ledger.New(dir),
	}
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.store.Dir()
}

// Store returns the artifact store.
func (m *Manager) Store() *Store {
	return m.store
}

// Ledger returns the completion ledger.
func (m *Manager) Ledger() *ledger.Ledger {
	return m.ledger
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Save writes the artifact, then records its epoch as completed, then applies
// retention. The ledger never names an epoch whose artifact write failed.
func (m *Manager) Save(ctx context.Context, artifact *Artifact) error {
	if artifact == nil {
		return ErrNilArtifact
	}

	if artifact.Epoch < 0 {
		return fmt.Errorf("%w: %d", ledger.ErrInvalidEpoch, artifact.Epoch)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "trainkit.checkpoint.save",
		trace.WithAttributes(attribute.Int("epoch", artifact.Epoch)))
	defer span.End()

	err := m.store.Save(artifact)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "artifact write failed")

		return err
	}

	err = m.ledger.RecordCompleted(artifact.Epoch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger append failed")

		return fmt.Errorf("record epoch %d: %w", artifact.Epoch, err)
	}

	m.logger().InfoContext(ctx, "checkpoint: saved",
		"epoch", artifact.Epoch, "path", m.store.Path(artifact.Epoch))

	if m.KeepLast > 0 {
		removed, pruneErr := m.Prune(ctx, m.KeepLast)
		if pruneErr != nil {
			m.logger().WarnContext(ctx, "checkpoint: prune failed", "error", pruneErr)
		} else if len(removed) > 0 {
			span.SetAttributes(attribute.IntSlice("pruned", removed))
		}
	}

	return nil
}

// Restore finds the last completed epoch with an artifact and loads it.
// Failures never abort training: they are logged, collected as warnings, and
// the result falls back to starting fresh.
func (m *Manager) Restore(ctx context.Context) Resume {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "trainkit.checkpoint.restore")
	defer span.End()

	logger := m.logger()
	res := Resume{Epoch: ledger.NoCheckpoint, LedgerEpoch: ledger.NoCheckpoint}

	epoch, err := m.ledger.Resolve(m.store)

	switch {
	case errors.Is(err, ledger.ErrLedgerMissing):
		logger.InfoContext(ctx, "checkpoint: no ledger, starting fresh", "dir", m.Dir())

		return res
	case err != nil:
		logger.WarnContext(ctx, "checkpoint: ledger unreadable, starting fresh", "error", err)
		res.Warnings = append(res.Warnings, err)
		span.AddEvent("checkpoint.fresh")

		return res
	case epoch == ledger.NoCheckpoint:
		logger.InfoContext(ctx, "checkpoint: no completed epoch has an artifact", "dir", m.Dir())

		return res
	}

	res.LedgerEpoch = epoch

	artifact, err := m.store.Load(epoch)
	if err == nil && artifact.Epoch < 0 {
		err = fmt.Errorf("%w: stored epoch %d", ledger.ErrInvalidEpoch, artifact.Epoch)
	}

	if err != nil {
		warn := fmt.Errorf("%w: epoch %d: %w", ErrArtifactLoad, epoch, err)
		logger.WarnContext(ctx, "checkpoint: resume failed, starting fresh", "error", warn)
		res.Warnings = append(res.Warnings, warn)
		span.RecordError(warn)
		span.AddEvent("checkpoint.fresh")

		return res
	}

	res.Artifact = artifact
	res.Epoch = artifact.Epoch

	if artifact.Epoch != epoch {
		warn := fmt.Errorf("%w: ledger %d, artifact %d", ErrLedgerMismatch, epoch, artifact.Epoch)
		logger.WarnContext(ctx, "checkpoint: epoch mismatch, trusting artifact", "error", warn)
		res.Warnings = append(res.Warnings, warn)
	}

	span.AddEvent("checkpoint.resumed", trace.WithAttributes(
		attribute.Int("epoch", res.Epoch),
	))
	logger.InfoContext(ctx, "checkpoint: resuming", "epoch", res.Epoch)

	return res
}

// Prune removes artifacts of all but the keep most recently completed epochs.
// The ledger is left untouched; its entries for removed artifacts go stale
// and are skipped by the resume scan.
func (m *Manager) Prune(ctx context.Context, keep int) ([]int, error) {
	if keep <= 0 {
		return nil, nil
	}

	entries, err := m.ledger.Entries()
	if errors.Is(err, ledger.ErrLedgerMissing) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(entries.Records))
	kept := 0

	var removed []int

	for i := len(entries.Records) - 1; i >= 0; i-- {
		epoch := entries.Records[i].Epoch
		if seen[epoch] || !m.store.Exists(epoch) {
			continue
		}

		seen[epoch] = true

		if kept < keep {
			kept++

			continue
		}

		rmErr := m.store.Remove(epoch)
		if rmErr != nil {
			return removed, rmErr
		}

		removed = append(removed, epoch)
	}

	if len(removed) > 0 {
		m.logger().InfoContext(ctx, "checkpoint: pruned", "epochs", removed, "kept", kept)
	}

	return removed, nil
}

// Clear removes the ledger and every artifact it names.
func (m *Manager) Clear() error {
	entries, err := m.ledger.Entries()
	if errors.Is(err, ledger.ErrLedgerMissing) {
		return nil
	}

	if err != nil {
		return err
	}

	for _, epoch := range entries.Epochs() {
		rmErr := m.store.Remove(epoch)
		if rmErr != nil {
			return rmErr
		}
	}

	err = os.Remove(m.ledger.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove ledger: %w", err)
	}

	return nil
}
