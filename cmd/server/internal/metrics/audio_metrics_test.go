package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestRecordUnitProcessed(t *testing.T) {
	AudioUnitsTotal.Reset()

	RecordUnitProcessed("chunk", true)
	RecordUnitProcessed("chunk", false)
	RecordUnitProcessed("chunk", false)

	assert.Equal(t, 1.0, counterValue(t, AudioUnitsTotal.WithLabelValues("chunk", "success")))
	assert.Equal(t, 2.0, counterValue(t, AudioUnitsTotal.WithLabelValues("chunk", "error")))
}

func TestTrackInFlight(t *testing.T) {
	InFlightUnits.Reset()

	done1 := TrackInFlight("segment")
	done2 := TrackInFlight("segment")
	assert.Equal(t, 2.0, counterValue(t, InFlightUnits.WithLabelValues("segment")))

	done1()
	done2()
	assert.Equal(t, 0.0, counterValue(t, InFlightUnits.WithLabelValues("segment")))
}

func TestSetPipelineReady(t *testing.T) {
	SetPipelineReady(true)
	assert.Equal(t, 1.0, counterValue(t, PipelineReady))
	SetPipelineReady(false)
	assert.Equal(t, 0.0, counterValue(t, PipelineReady))
}
