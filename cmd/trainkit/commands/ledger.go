package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/report"
)

// ErrArtifactAbsent is returned by "ledger record" when the epoch has no
// artifact and --force was not given.
var ErrArtifactAbsent = errors.New("no artifact for epoch; use --force to record anyway")

// LedgerCommand holds flags shared by the ledger subcommands.
type LedgerCommand struct {
	opts *Options
	dir  string
	now  func() time.Time
}

// NewLedgerCommand creates the "ledger" command group.
func NewLedgerCommand(opts *Options) *cobra.Command {
	lc := &LedgerCommand{opts: opts, now: time.Now}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the checkpoint ledger",
		Long: `Inspect and maintain the completion ledger of a checkpoint directory.

The ledger is an append-only file named "done" holding one completed epoch
per line. Training resumes from the most recent entry whose artifact exists.`,
	}

	cmd.PersistentFlags().StringVarP(&lc.dir, "dir", "d", "", "Checkpoint directory (overrides config and CHECKPOINT_PATH)")

	cmd.AddCommand(
		lc.statusCommand(),
		lc.resumePointCommand(),
		lc.recordCommand(),
		lc.pruneCommand(),
		lc.clearCommand(),
	)

	return cmd
}

func (lc *LedgerCommand) manager() (*checkpoint.Manager, error) {
	cfg, err := lc.opts.Load(lc.dir)
	if err != nil {
		return nil, err
	}

	return newManager(cfg)
}

func (lc *LedgerCommand) statusCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger entries, artifact presence and the resume point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := lc.manager()
			if err != nil {
				return err
			}

			rep, err := report.BuildLedgerReport(mgr.Store(), lc.now())
			if err != nil {
				return err
			}

			return report.Write(cmd.OutOrStdout(), format, rep)
		},
	}

	cmd.Flags().StringVar(&format, "format", report.FormatTable, "Output format: table, json, yaml")

	return cmd
}

func (lc *LedgerCommand) resumePointCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume-point",
		Short: "Print the epoch training would resume after (-1 for none)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := lc.manager()
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), mgr.Ledger().FindResumePoint(mgr.Store()))

			return err
		},
	}
}

func (lc *LedgerCommand) recordCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "record <epoch>",
		Short: "Append a completed epoch to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parse epoch %q: %w", args[0], err)
			}

			mgr, err := lc.manager()
			if err != nil {
				return err
			}

			if !force && !mgr.Store().Exists(epoch) {
				return fmt.Errorf("%w: %s", ErrArtifactAbsent, mgr.Store().Path(epoch))
			}

			err = mgr.Ledger().RecordCompleted(epoch)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "recorded epoch %d in %s\n", epoch, mgr.Ledger().Path())

			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Record even when the artifact is missing")

	return cmd
}

func (lc *LedgerCommand) pruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove artifacts of all but the most recent completed epochs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep <= 0 {
				return fmt.Errorf("--keep must be positive, got %d", keep)
			}

			mgr, err := lc.manager()
			if err != nil {
				return err
			}

			removed, err := mgr.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}

			if len(removed) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "nothing to prune")

				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed epochs %v\n", removed)

			return err
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 1, "Number of most recent artifacts to keep")

	return cmd
}

func (lc *LedgerCommand) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the ledger and every artifact it names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := lc.manager()
			if err != nil {
				return err
			}

			err = mgr.Clear()
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", mgr.Dir())

			return err
		},
	}
}
