package report

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
)

// EvalBatch holds the batch-local values of one evaluated batch.
type EvalBatch struct {
	Index  int             `json:"index"  yaml:"index"`
	Size   int             `json:"size"   yaml:"size"`
	Values []metrics.Value `json:"values" yaml:"values"`
}

// EvalReport summarizes a streaming evaluation.
type EvalReport struct {
	Source     string             `json:"source"              yaml:"source"`
	Samples    int                `json:"samples"             yaml:"samples"`
	Batches    []EvalBatch        `json:"batches,omitempty"   yaml:"batches,omitempty"`
	Cumulative []metrics.Value    `json:"cumulative"          yaml:"cumulative"`
	ROC        []metrics.ROCPoint `json:"roc,omitempty"       yaml:"roc,omitempty"`
}

// AddBatch appends the values of the next batch.
func (r *EvalReport) AddBatch(size int, values []metrics.Value) {
	r.Batches = append(r.Batches, EvalBatch{Index: len(r.Batches), Size: size, Values: values})
	r.Samples += size
}

// Table renders per-batch values followed by the cumulative ones.
func (r EvalReport) Table() string {
	names := make([]string, 0, len(r.Cumulative))
	for _, v := range r.Cumulative {
		names = append(names, v.Name)
	}

	header := table.Row{"Batch", "Size"}
	for _, name := range names {
		header = append(header, name)
	}

	tbl := newTable()
	tbl.AppendHeader(header)

	for _, b := range r.Batches {
		row := table.Row{b.Index, b.Size}
		for _, v := range b.Values {
			row = append(row, v.String())
		}

		tbl.AppendRow(row)
	}

	footer := table.Row{"Total", humanize.Comma(int64(r.Samples))}
	for _, v := range r.Cumulative {
		footer = append(footer, v.String())
	}

	tbl.AppendFooter(footer)

	var sb strings.Builder

	if r.Source != "" {
		fmt.Fprintf(&sb, "Source: %s\n", r.Source)
	}

	sb.WriteString(tbl.Render())
	sb.WriteString("\n")

	return sb.String()
}
