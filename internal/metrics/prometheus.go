package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Pipeline metrics
	PipelinesStarted   prometheus.Counter
	PipelinesCompleted *prometheus.CounterVec
	ActivePipelines    prometheus.Gauge
	StageDuration      *prometheus.HistogramVec
	StageFailures      *prometheus.CounterVec

	// Normalization metrics
	Normalizations        *prometheus.CounterVec
	NormalizationDuration prometheus.Histogram

	// Recognition metrics
	ChunksFed          prometheus.Counter
	Utterances         prometheus.Counter
	TranscriptionWords prometheus.Histogram
	Confidence         prometheus.Histogram

	// Model cache metrics
	ModelLoads        *prometheus.CounterVec
	ModelLoadDuration prometheus.Histogram
	ModelsLoaded      prometheus.Gauge

	// Report metrics
	ReportsGenerated prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Pipeline metrics
		PipelinesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_pipelines_started_total",
			Help: "Total number of transcription pipelines started",
		}),
		PipelinesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_pipelines_completed_total",
			Help: "Total number of transcription pipelines completed by outcome",
		}, []string{"outcome"}),
		ActivePipelines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_active_pipelines",
			Help: "Current number of pipelines holding a worker slot",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_stage_failures_total",
			Help: "Total number of captured stage failures by kind",
		}, []string{"stage", "kind"}),

		// Normalization metrics
		Normalizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_normalizations_total",
			Help: "Total number of audio normalizations by source format and outcome",
		}, []string{"format", "outcome"}),
		NormalizationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_normalization_duration_seconds",
			Help:    "Duration of audio normalization",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),

		// Recognition metrics
		ChunksFed: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_chunks_fed_total",
			Help: "Total number of PCM chunks fed to recognizers",
		}),
		Utterances: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_utterances_total",
			Help: "Total number of utterance hypotheses produced",
		}),
		TranscriptionWords: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_transcription_words",
			Help:    "Number of words per successful transcription",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1 to ~8k words
		}),
		Confidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_confidence",
			Help:    "Confidence score of successful transcriptions",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Model cache metrics
		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_model_loads_total",
			Help: "Total number of acoustic model loads by locale and outcome",
		}, []string{"locale", "outcome"}),
		ModelLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_model_load_duration_seconds",
			Help:    "Time taken to load an acoustic model",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		ModelsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_models_loaded",
			Help: "Current number of resident acoustic models",
		}),

		// Report metrics
		ReportsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_reports_generated_total",
			Help: "Total number of report documents written",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPipelineStarted increments started pipelines and the active gauge
func (m *Metrics) RecordPipelineStarted() {
	if m == nil {
		return
	}
	m.PipelinesStarted.Inc()
	m.ActivePipelines.Inc()
}

// RecordPipelineFinished decrements the active gauge and counts the outcome
func (m *Metrics) RecordPipelineFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActivePipelines.Dec()
	m.PipelinesCompleted.WithLabelValues(outcome).Inc()
}

// RecordStage observes the time spent in a pipeline stage
func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageFailure counts a captured stage failure
func (m *Metrics) RecordStageFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage, kind).Inc()
}

// RecordNormalization records a normalization attempt
func (m *Metrics) RecordNormalization(format, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Normalizations.WithLabelValues(format, outcome).Inc()
	m.NormalizationDuration.Observe(durationSeconds)
}

// RecordChunks adds fed chunks and produced utterances
func (m *Metrics) RecordChunks(chunks, utterances int) {
	if m == nil {
		return
	}
	m.ChunksFed.Add(float64(chunks))
	m.Utterances.Add(float64(utterances))
}

// RecordTranscription records the size and confidence of a successful transcription
func (m *Metrics) RecordTranscription(words int, confidence float64) {
	if m == nil {
		return
	}
	m.TranscriptionWords.Observe(float64(words))
	m.Confidence.Observe(confidence)
}

// RecordModelLoad records an acoustic model load
func (m *Metrics) RecordModelLoad(locale, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ModelLoads.WithLabelValues(locale, outcome).Inc()
	m.ModelLoadDuration.Observe(durationSeconds)
}

// SetModelsLoaded sets the number of resident models
func (m *Metrics) SetModelsLoaded(count int) {
	if m == nil {
		return
	}
	m.ModelsLoaded.Set(float64(count))
}

// RecordReportGenerated increments the reports counter
func (m *Metrics) RecordReportGenerated() {
	if m == nil {
		return
	}
	m.ReportsGenerated.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
