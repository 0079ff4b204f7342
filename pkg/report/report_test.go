package report_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpulse/pkg/report"
)

func TestGenerate_RejectsUnsupportedFormat(t *testing.T) {
	svc := report.New(nil, report.Config{})

	_, err := svc.Generate(context.Background(), report.Request{Format: report.Format("csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported report format")
}
