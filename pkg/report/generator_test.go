package report_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetpulse/pkg/report"
)

func TestColName(t *testing.T) {
	cases := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA"}
	for index, want := range cases {
		assert.Equal(t, want, report.ColName(index))
	}
}

func TestCellAddr(t *testing.T) {
	assert.Equal(t, "C5", report.CellAddr("C", 5))
}

func TestFormatFloat(t *testing.T) {
	var g report.BaseGenerator
	assert.Equal(t, "12.35", g.FormatFloat(12.3456, 2))
	assert.Equal(t, "12", g.FormatFloat(12.3456, 0))
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "application/pdf", report.FormatPDF.ContentType())
	assert.Equal(t, "pdf", report.FormatPDF.Extension())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", report.FormatXLSX.ContentType())
	assert.Equal(t, "xlsx", report.FormatXLSX.Extension())
}
