package parser

import (
	"strings"

	"github.com/tealeg/xlsx/v2"
)

// ExtractXLSX renders every sheet as pipe-separated rows under a sheet
// heading. Blank rows are skipped and do not count toward MaxRows.
func ExtractXLSX(data []byte, limits Limits) (Result, error) {
	limits = limits.withDefaults()
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return Result{}, &Error{Code: ParseFailed(KindXLSX), Err: err}
	}

	var b strings.Builder
	rows, cells := 0, 0
	for _, sheet := range f.Sheets {
		wroteHeading := false
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			values := make([]string, 0, len(row.Cells))
			nonEmpty := false
			for _, cell := range row.Cells {
				v := ""
				if cell != nil {
					v = strings.TrimSpace(cell.String())
				}
				if v != "" {
					nonEmpty = true
				}
				values = append(values, v)
			}
			if !nonEmpty {
				continue
			}

			rows++
			if rows > limits.MaxRows {
				return Result{}, &LimitError{Code: CodeMaxRows, Limit: limits.MaxRows}
			}
			cells += len(values)
			if cells > limits.MaxCells {
				return Result{}, &LimitError{Code: CodeMaxCells, Limit: limits.MaxCells}
			}

			if !wroteHeading {
				b.WriteString("## Sheet: ")
				b.WriteString(sheet.Name)
				b.WriteString("\n")
				wroteHeading = true
			}
			b.WriteString(strings.Join(trimTrailing(values), " | "))
			b.WriteString("\n")
		}
	}
	return finish(strings.TrimSpace(b.String()), limits), nil
}

func trimTrailing(values []string) []string {
	end := len(values)
	for end > 0 && values[end-1] == "" {
		end--
	}
	return values[:end]
}
