package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ruslano69/mssqlpool/pkg/result"
	"github.com/ruslano69/mssqlpool/pkg/xlsx"
)

// statementResult pairs a batch with its result
type statementResult struct {
	Statement string
	Result    *result.ExecutionResult
}

// jsonResult is the --format json shape of one batch
type jsonResult struct {
	Statement    string        `json:"statement"`
	Columns      []string      `json:"columns,omitempty"`
	Rows         *[]result.Row `json:"rows,omitempty"`
	RowsAffected *int64        `json:"rows_affected,omitempty"`
}

// writeResults renders results in the requested format. xlsx writes to
// path; the text formats write to w.
func writeResults(w io.Writer, format, path string, results []statementResult) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, results)
	case FormatXLSX:
		return writeXLSX(path, results)
	default:
		return writeTable(w, results)
	}
}

func writeTable(w io.Writer, results []statementResult) error {
	for i, sr := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		res := sr.Result

		if !res.HasRows() {
			if n, ok := res.AffectedRows(); ok && res.HasAffectedCount() {
				fmt.Fprintf(w, "(%d %s affected)\n", n, plural(n, "row"))
			} else {
				fmt.Fprintln(w, "(command completed)")
			}
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		cols := res.Columns()
		names := make([]string, len(cols))
		rule := make([]string, len(cols))
		for j, c := range cols {
			names[j] = c.Name
			if names[j] == "" {
				names[j] = fmt.Sprintf("(column %d)", j+1)
			}
			rule[j] = strings.Repeat("-", len(names[j]))
		}
		fmt.Fprintln(tw, strings.Join(names, "\t"))
		fmt.Fprintln(tw, strings.Join(rule, "\t"))

		for _, row := range res.Rows() {
			cells := make([]string, row.Len())
			for j := range cells {
				cells[j] = row.At(j).String()
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		n := int64(len(res.Rows()))
		fmt.Fprintf(w, "(%d %s)\n", n, plural(n, "row"))
	}
	return nil
}

func plural(n int64, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func writeJSON(w io.Writer, results []statementResult) error {
	out := make([]jsonResult, 0, len(results))
	for _, sr := range results {
		jr := jsonResult{Statement: sr.Statement}
		if sr.Result.HasRows() {
			for _, c := range sr.Result.Columns() {
				jr.Columns = append(jr.Columns, c.Name)
			}
			rows := sr.Result.Rows()
			if rows == nil {
				rows = []result.Row{}
			}
			jr.Rows = &rows
		} else if sr.Result.HasAffectedCount() {
			n, _ := sr.Result.AffectedRows()
			jr.RowsAffected = &n
		}
		out = append(out, jr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeXLSX(path string, results []statementResult) error {
	if path == "" {
		return fmt.Errorf("xlsx output needs --output")
	}

	wb := xlsx.NewWorkbook()
	defer wb.Close()

	for i, sr := range results {
		if err := wb.AddResult(fmt.Sprintf("Result%d", i+1), sr.Result); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return wb.SaveAs(path)
}
