package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/trainkit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/trainkit/pkg/ledger"
)

// LedgerRow is one ledger record joined with its artifact.
type LedgerRow struct {
	Line     int       `json:"line"               yaml:"line"`
	Epoch    int       `json:"epoch"              yaml:"epoch"`
	Artifact bool      `json:"artifact"           yaml:"artifact"`
	Resume   bool      `json:"resume"             yaml:"resume"`
	Size     int64     `json:"size,omitempty"     yaml:"size,omitempty"`
	Modified time.Time `json:"modified,omitzero"   yaml:"modified,omitempty"`
}

// LedgerReport describes the state of a checkpoint directory.
type LedgerReport struct {
	Dir         string      `json:"dir"                    yaml:"dir"`
	Exists      bool        `json:"exists"                 yaml:"exists"`
	ResumePoint int         `json:"resume_point"           yaml:"resume_point"`
	Torn        string      `json:"torn,omitempty"         yaml:"torn,omitempty"`
	Unparsable  []int       `json:"unparsable,omitempty"   yaml:"unparsable,omitempty"`
	Rows        []LedgerRow `json:"entries"                yaml:"entries"`

	now time.Time
}

// BuildLedgerReport reads the ledger of store's directory and checks every artifact.
// A missing ledger yields an empty report with Exists false.
func BuildLedgerReport(store *checkpoint.Store, now time.Time) (LedgerReport, error) {
	rep := LedgerReport{Dir: store.Dir(), ResumePoint: ledger.NoCheckpoint, now: now}

	entries, err := ledger.New(store.Dir()).Entries()
	if errors.Is(err, ledger.ErrLedgerMissing) {
		return rep, nil
	}

	if err != nil {
		return rep, err
	}

	rep.Exists = true
	rep.Torn = entries.Torn
	rep.Unparsable = entries.Skipped
	rep.ResumePoint = entries.ResumePoint(store)

	for _, st := range entries.Status(store) {
		row := LedgerRow{
			Line:     st.Line,
			Epoch:    st.Epoch,
			Artifact: st.ArtifactPresent,
			Resume:   st.Resume,
		}

		if st.ArtifactPresent {
			info, statErr := store.Stat(st.Epoch)
			if statErr == nil {
				row.Size = info.Size()
				row.Modified = info.ModTime()
			}
		}

		rep.Rows = append(rep.Rows, row)
	}

	return rep, nil
}

// Table renders the report for a terminal.
func (r LedgerReport) Table() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Checkpoint dir: %s\n", r.Dir)

	if !r.Exists {
		sb.WriteString("No ledger found; training starts at epoch 0.\n")

		return sb.String()
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"Line", "Epoch", "Artifact", "Size", "Age", ""})

	now := r.now
	if now.IsZero() {
		now = time.Now()
	}

	for _, row := range r.Rows {
		artifact := color.New(color.FgRed).Sprint("missing")
		size, age := "-", "-"

		if row.Artifact {
			artifact = color.New(color.FgGreen).Sprint("present")
			size = humanize.Bytes(uint64(max(row.Size, 0)))
			age = humanize.RelTime(row.Modified, now, "ago", "from now")
		}

		marker := ""
		if row.Resume {
			marker = color.New(color.FgCyan).Sprint("<- resume")
		}

		tbl.AppendRow(table.Row{row.Line, row.Epoch, artifact, size, age, marker})
	}

	tbl.AppendFooter(table.Row{"", "", "", "", "Resume point", strconv.Itoa(r.ResumePoint)})

	sb.WriteString(tbl.Render())
	sb.WriteString("\n")

	if r.Torn != "" {
		color.New(color.FgYellow).Fprintf(&sb, "Torn trailing record %q is ignored.\n", r.Torn)
	}

	if len(r.Unparsable) > 0 {
		color.New(color.FgYellow).Fprintf(&sb, "Unparsable lines skipped: %v\n", r.Unparsable)
	}

	return sb.String()
}
