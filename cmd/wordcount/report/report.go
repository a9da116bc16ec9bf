package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"wordflow/mapreduce/plan"
	"wordflow/mapreduce/store"
	"wordflow/mapreduce/types"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Format selects how the counts are written.
type Format string

const (
	Plain Format = "plain"
	Table Format = "table"
)

// ParseFormat validates a -format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case Plain, Table:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Printer writes counts and statistics.
type Printer struct {
	out      io.Writer
	format   Format
	preamble *color.Color
}

// NewPrinter creates a Printer. Colour only affects the preamble; when
// colored is set it still stays off if stdout is not a terminal.
func NewPrinter(out io.Writer, format Format, colored bool) *Printer {
	preamble := color.New(color.FgCyan, color.Bold)
	if !colored {
		preamble.DisableColor()
	}
	return &Printer{out: out, format: format, preamble: preamble}
}

// Counts writes the distinct word count, then every word in the set's
// sorted order.
func (p *Printer) Counts(rs types.ResultSet) error {
	if _, err := p.preamble.Fprintf(p.out, "Found %d words:", len(rs)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(p.out); err != nil {
		return err
	}
	pairs := rs.Sorted()
	if p.format == Table {
		t := table.NewWriter()
		t.SetOutputMirror(p.out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Count", "Word"})
		for _, pair := range pairs {
			t.AppendRow(table.Row{pair.Count, pair.Key})
		}
		t.AppendFooter(table.Row{rs.Total(), "total"})
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignRight}})
		t.Render()
		return nil
	}
	for _, pair := range pairs {
		if _, err := fmt.Fprintf(p.out, "%dx %s\n", pair.Count, pair.Key); err != nil {
			return err
		}
	}
	return nil
}

// Stats writes one row per step with the records it received and emitted.
func (p *Printer) Stats(res *plan.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s (%s)", res.JobName, res.JobID)
	t.AppendHeader(table.Row{"#", "Step", "In", "Out"})
	for i, s := range res.Stats {
		t.AppendRow(table.Row{i + 1, s.Name, s.In, s.Out})
	}
	t.AppendFooter(table.Row{"", "elapsed", res.Elapsed.Round(time.Microsecond), ""})
	t.Render()
}

// History writes one row per recorded job, in the order given.
func (p *Printer) History(jobs []store.Job) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Recorded", "Job", "ID", "Input", "Words", "Total"})
	for _, job := range jobs {
		t.AppendRow(table.Row{
			job.CreatedAt.Local().Format(time.DateTime),
			job.Name,
			job.ID,
			job.Input,
			job.Distinct,
			job.Total,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	t.Render()
}
