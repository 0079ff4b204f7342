package report

import (
	"context"
	"fmt"
)

// Generator renders a Data into one report output format.
type Generator interface {
	Generate(ctx context.Context, data *Data) ([]byte, error)
	Format() Format
}

// BaseGenerator holds formatting helpers shared by every Generator
// implementation.
type BaseGenerator struct{}

// FormatFloat formats v with precision decimal places.
func (BaseGenerator) FormatFloat(v float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, v)
}

// FormatTimestamp formats t for display inside a generated report.
func (BaseGenerator) FormatTimestamp(t string) string { return t }

// ColName converts a zero-based column index into its spreadsheet
// letter form (0 -> A, 25 -> Z, 26 -> AA).
func ColName(index int) string {
	result := ""
	for {
		result = string(rune('A'+index%26)) + result
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return result
}

// CellAddr returns the cell address for a column letter and 1-based row.
func CellAddr(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
