// Package report renders ledger and evaluation summaries for terminals and tools.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ErrUnsupportedFormat is returned for an unknown output format.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Formats lists the accepted output formats.
func Formats() []string {
	return []string{FormatTable, FormatJSON, FormatYAML}
}

// tabular is implemented by reports with a table rendering.
type tabular interface {
	Table() string
}

// Write encodes the report in the requested format.
func Write(w io.Writer, format string, rep tabular) error {
	switch format {
	case FormatTable, "":
		_, err := io.WriteString(w, rep.Table())
		if err != nil {
			return fmt.Errorf("table write: %w", err)
		}

		return nil
	case FormatJSON:
		return marshalAndWrite(rep, func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }, w, "json")
	case FormatYAML:
		return marshalAndWrite(rep, yaml.Marshal, w, "yaml")
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// marshalAndWrite marshals data and writes the result to writer.
func marshalAndWrite(data any, marshal func(any) ([]byte, error), writer io.Writer, label string) error {
	encoded, err := marshal(data)
	if err != nil {
		return fmt.Errorf("%s encode: %w", label, err)
	}

	_, writeErr := writer.Write(encoded)
	if writeErr != nil {
		return fmt.Errorf("%s write: %w", label, writeErr)
	}

	return nil
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Format.Header = text.FormatDefault
	tbl.Style().Format.Footer = text.FormatDefault

	return tbl
}
