package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_ToleratesDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, registerCollector(reg, matchesTotal))
}

func TestMatchCounters(t *testing.T) {
	before := testutil.ToFloat64(matchesTotal.WithLabelValues("text", "committed"))
	MatchCommitted("text", 0.9)
	assert.Equal(t, before+1, testutil.ToFloat64(matchesTotal.WithLabelValues("text", "committed")))

	SetWaiting("video", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(matchWaiting.WithLabelValues("video")))
}
