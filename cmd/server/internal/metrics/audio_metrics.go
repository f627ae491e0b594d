package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AudioUnitsTotal 处理单元（切片 / 说话人片段）计数器
	// Labels: component (chunk/segment), status (success/error)
	AudioUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeflow_audio_units_total",
			Help: "Total number of audio chunks or speaker segments processed",
		},
		[]string{"component", "status"},
	)

	// AudioErrorsTotal 音频处理错误计数器
	// Labels: component, error_code (INPUT_INVALID/BATCH_FAILED/...)
	AudioErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribeflow_audio_errors_total",
			Help: "Total number of audio processing errors by component and error code",
		},
		[]string{"component", "error_code"},
	)

	// PipelineReady 就绪量规（0=未就绪，1=就绪）
	PipelineReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribeflow_pipeline_ready",
			Help: "Pipeline readiness status (0=not ready, 1=ready)",
		},
	)

	// InFlightUnits 正在处理中的单元数量
	InFlightUnits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scribeflow_inflight_units",
			Help: "Number of chunks or segments currently being processed",
		},
		[]string{"component"},
	)

	// AudioProcessingDuration 处理耗时直方图（秒）
	// Labels: component (chunk/segment/job)
	AudioProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scribeflow_audio_processing_duration_seconds",
			Help:    "Audio processing duration in seconds by component",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"component"},
	)
)

// RecordUnitProcessed 记录单元处理完成
func RecordUnitProcessed(component string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	AudioUnitsTotal.WithLabelValues(component, status).Inc()
}

// RecordError 记录处理错误
func RecordError(component, errorCode string) {
	AudioErrorsTotal.WithLabelValues(component, errorCode).Inc()
}

// SetPipelineReady 设置就绪状态
func SetPipelineReady(ready bool) {
	if ready {
		PipelineReady.Set(1)
	} else {
		PipelineReady.Set(0)
	}
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func TrackInFlight(component string) func() {
	g := InFlightUnits.WithLabelValues(component)
	g.Inc()
	return g.Dec
}

// RecordDuration 记录处理耗时（秒）
func RecordDuration(component string, durationSeconds float64) {
	AudioProcessingDuration.WithLabelValues(component).Observe(durationSeconds)
}
