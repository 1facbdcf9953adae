package tractometry

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"tractkit/internal/publish"
	"tractkit/internal/services"
)

// Sentinels recorded in place of statistics.
const (
	NoTract = "no tract"
	NoMap   = "no map"
)

var statToken = regexp.MustCompile(`\d\S*`)

// Stat is the mean, standard deviation and voxel count of one measure inside
// one tract. Values stay textual so sentinels fit.
type Stat struct {
	Mean  string
	Std   string
	Count string
}

func sentinel(value string) Stat {
	return Stat{Mean: value, Std: value, Count: value}
}

// ParseStats extracts mean, std and count from mrstats output. Only tokens
// that start with a digit count.
func ParseStats(output string) (Stat, error) {
	tokens := statToken.FindAllString(output, -1)
	if len(tokens) < 3 {
		return Stat{}, services.Wrap(services.ErrExternalTool, "metrics", "mrstats",
			fmt.Sprintf("expected 3 values, found %d in %q", len(tokens), strings.TrimSpace(output)), nil)
	}
	return Stat{Mean: tokens[0], Std: tokens[1], Count: tokens[2]}, nil
}

// Row holds one (group, subject, tract) with a Stat per measure, in the
// table's measure order.
type Row struct {
	Group   string
	Subject string
	Tract   string
	Stats   []Stat
}

// Table accumulates report rows. Rows are only ever appended.
type Table struct {
	measures []string
	rows     []Row
}

// NewTable returns an empty table for measures.
func NewTable(measures []string) *Table {
	return &Table{measures: append([]string(nil), measures...)}
}

// Measures returns the measure columns in order.
func (t *Table) Measures() []string {
	return append([]string(nil), t.measures...)
}

// Append adds rows. Every row needs exactly one Stat per measure.
func (t *Table) Append(rows ...Row) error {
	for _, row := range rows {
		if len(row.Stats) != len(t.measures) {
			return services.Wrap(services.ErrValidation, "metrics", "append row",
				fmt.Sprintf("%s/%s %s has %d stats for %d measures", row.Group, row.Subject, row.Tract, len(row.Stats), len(t.measures)), nil)
		}
	}
	t.rows = append(t.rows, rows...)
	return nil
}

// Rows returns a copy of the rows in insertion order.
func (t *Table) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Header returns the CSV header: Group, Subject, Tract, then mean, std and
// count columns per measure, e.g. FA_mean.
func (t *Table) Header() []string {
	header := []string{"Group", "Subject", "Tract"}
	for _, measure := range t.measures {
		label := ColumnLabel(measure)
		header = append(header, label+"_mean", label+"_std", label+"_count")
	}
	return header
}

// WriteCSV serializes the header and every row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range t.rows {
		record := []string{row.Group, row.Subject, row.Tract}
		for _, stat := range row.Stats {
			record = append(record, stat.Mean, stat.Std, stat.Count)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Long flattens the table into one publish row per measure.
func (t *Table) Long() []publish.Row {
	out := make([]publish.Row, 0, len(t.rows)*len(t.measures))
	for _, row := range t.rows {
		for i, stat := range row.Stats {
			out = append(out, publish.Row{
				Group:   row.Group,
				Subject: row.Subject,
				Tract:   row.Tract,
				Measure: t.measures[i],
				Mean:    stat.Mean,
				Std:     stat.Std,
				Count:   stat.Count,
			})
		}
	}
	return out
}

// ColumnLabel names a measure in report headers. NODDI's ficvf is reported
// as NDI.
func ColumnLabel(measure string) string {
	if strings.EqualFold(measure, "ficvf") {
		return "NDI"
	}
	return strings.ToUpper(measure)
}
