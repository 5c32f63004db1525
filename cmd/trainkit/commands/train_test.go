package commands

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/ledger"
	"github.com/Sumatoshi-tech/trainkit/pkg/observability"
)

const trainConfig = `training:
  log_interval: 1
  top_k: 1
checkpoint:
  codec: json
  compress: true
  keep_last: 2
`

func runTrain(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	base := []string{"train", "--dir", dir, "--batches", "3", "--batch-size", "16", "--dim", "2"}

	return execute(t, writeConfig(t, trainConfig), func(opts *Options) *cobra.Command {
		return newTrainCommandWithDeps(opts, noopObservabilityInit)
	}, append(base, args...)...)
}

func readLedger(t *testing.T, dir string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, ledger.FileName))
	require.NoError(t, err)

	return string(data)
}

func TestTrain_FreshThenResume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	out, err := runTrain(t, dir, "--epochs", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "resumed from -1, skipped 0, completed 2 epochs")
	assert.Contains(t, out, "acc_top1: ")
	assert.Contains(t, out, "auc: ")
	assert.Equal(t, "0\n1\n", readLedger(t, dir))

	out, err = runTrain(t, dir, "--epochs", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "resumed from 1, skipped 2, completed 2 epochs")
	assert.Equal(t, "0\n1\n2\n3\n", readLedger(t, dir))

	_, statErr := os.Stat(filepath.Join(dir, "1"))
	require.ErrorIs(t, statErr, os.ErrNotExist, "keep_last 2 prunes older artifacts")
	assert.FileExists(t, filepath.Join(dir, "3"))
}

func TestTrain_ClearRefusedOnSecondaryRank(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := runTrain(t, dir, "--epochs", "2")
	require.NoError(t, err)

	secondary := writeConfig(t, trainConfig+"cluster:\n  rank: 1\n  world_size: 2\n")

	_, err = execute(t, secondary, func(opts *Options) *cobra.Command {
		return newTrainCommandWithDeps(opts, noopObservabilityInit)
	}, "train", "--dir", dir, "--clear", "--epochs", "2")
	require.ErrorIs(t, err, ErrClearNotPrimary)

	assert.Equal(t, "0\n1\n", readLedger(t, dir))
	assert.FileExists(t, filepath.Join(dir, "1"))
}

func TestTrain_ResumeAfterLostArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := runTrain(t, dir, "--epochs", "2")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "1")))

	out, err := runTrain(t, dir, "--epochs", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "resumed from 0, skipped 1, completed 1 epochs")
}

func TestTrain_Clear(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := runTrain(t, dir, "--epochs", "2")
	require.NoError(t, err)

	out, err := runTrain(t, dir, "--epochs", "1", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "resumed from -1, skipped 0, completed 1 epochs")
	assert.Equal(t, "0\n", readLedger(t, dir))
}

func TestTrain_NoResume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := runTrain(t, dir, "--epochs", "1")
	require.NoError(t, err)

	out, err := runTrain(t, dir, "--epochs", "1", "--no-resume")
	require.NoError(t, err)
	assert.Contains(t, out, "resumed from -1, skipped 0, completed 1 epochs")
	assert.Equal(t, "0\n0\n", readLedger(t, dir))
}

func TestTrain_ArtifactsUseConfiguredCodec(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := runTrain(t, dir, "--epochs", "1")
	require.NoError(t, err)

	cfg, err := (&Options{ConfigPath: writeConfig(t, trainConfig)}).Load(dir)
	require.NoError(t, err)

	mgr, err := newManager(cfg)
	require.NoError(t, err)
	assert.Equal(t, "json+lz4", mgr.Store().Codec().Name())

	artifact, err := mgr.Store().Load(0)
	require.NoError(t, err)
	assert.Equal(t, 0, artifact.Epoch)
	assert.Contains(t, artifact.Model, "weight")
	assert.Contains(t, artifact.Metrics, "auc")
	assert.Equal(t, 3, artifact.Summary.Batches)
	assert.Equal(t, checkpoint.MetadataVersion, artifact.Version)
}

func TestTrain_ObservabilityInitFailure(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	_, err := execute(t, writeConfig(t, trainConfig), func(opts *Options) *cobra.Command {
		return newTrainCommandWithDeps(opts, func(observability.Config) (observability.Providers, error) {
			return observability.Providers{}, errBoom
		})
	}, "train", "--dir", t.TempDir())
	require.ErrorIs(t, err, errBoom)
}
