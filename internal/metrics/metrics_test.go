package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/equipment":          "/equipment",
		"/equipment/42":       "/equipment/{id}",
		"/equipment/42/audit": "/equipment/{id}/audit",
		"/graph":              "/graph",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func TestAddImportRows_IgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(ImportRows.WithLabelValues("rejected"))
	AddImportRows("rejected", 0)
	AddImportRows("rejected", 3)
	assert.InDelta(t, before+3, testutil.ToFloat64(ImportRows.WithLabelValues("rejected")), 1e-9)
}

func TestIncDBRetry(t *testing.T) {
	before := testutil.ToFloat64(DBRetries.WithLabelValues("equipment.fetch"))
	IncDBRetry("equipment.fetch")
	assert.InDelta(t, before+1, testutil.ToFloat64(DBRetries.WithLabelValues("equipment.fetch")), 1e-9)
}
