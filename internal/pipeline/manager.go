package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lukehanabi/audio-to-doc/internal/audio"
	"github.com/lukehanabi/audio-to-doc/internal/diarization"
	"github.com/lukehanabi/audio-to-doc/internal/metrics"
	"github.com/lukehanabi/audio-to-doc/internal/recognizer"
	"github.com/lukehanabi/audio-to-doc/internal/report"
	"github.com/lukehanabi/audio-to-doc/internal/transcription"
)

// ErrStopped is returned by Process after Stop.
var ErrStopped = errors.New("pipeline manager stopped")

const (
	stageLanguage    = "language"
	stageNormalize   = "normalizing"
	stageModel       = "model"
	stageRecognize   = "recognizing"
	stageAggregate   = "aggregating"
	stageReport      = "report"
	defaultCleanup   = 30 * time.Second
	defaultRetention = 10 * time.Minute
)

// Normalizer converts an uploaded asset into canonical PCM.
type Normalizer interface {
	Normalize(ctx context.Context, asset audio.Asset) (*audio.NormalizedAudio, error)
}

// ModelProvider hands out the model for a locale.
type ModelProvider interface {
	Get(ctx context.Context, locale string) (recognizer.Model, error)
}

// ReportWriter turns a result into a report artifact.
type ReportWriter interface {
	Generate(result *transcription.Result, meta report.FileMeta) (*report.Artifact, error)
}

// ManagerConfig contains pipeline manager parameters
type ManagerConfig struct {
	MaxConcurrent   int
	JobRetention    time.Duration
	CleanupInterval time.Duration
}

// Dependencies are the stage implementations used by the manager.
type Dependencies struct {
	Normalizer Normalizer
	Models     ModelProvider
	Engine     Transcriber
	Reports    ReportWriter
	Diarizer   diarization.Diarizer // nil means diarization.Disabled
}

// Request is one uploaded file to transcribe.
type Request struct {
	Asset    audio.Asset
	Language string
}

// Manager runs transcription pipelines with bounded concurrency and keeps
// finished jobs around for monitoring until they expire.
type Manager struct {
	config  ManagerConfig
	deps    Dependencies
	logger  *slog.Logger
	metrics *metrics.Metrics
	sem     *semaphore.Weighted

	jobs map[string]*Job
	mu   sync.RWMutex

	// Statistics
	processed atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	active    atomic.Int64

	stopped atomic.Bool

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// ManagerStats represents pipeline manager statistics
type ManagerStats struct {
	ActivePipelines int64  `json:"active_pipelines"`
	MaxConcurrent   int    `json:"max_concurrent"`
	RetainedJobs    int    `json:"retained_jobs"`
	Processed       uint64 `json:"processed"`
	Succeeded       uint64 `json:"succeeded"`
	Failed          uint64 `json:"failed"`
	Cancelled       uint64 `json:"cancelled"`
}

// NewManager creates a pipeline manager and starts its cleanup routine
func NewManager(config ManagerConfig, deps Dependencies, logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	if deps.Normalizer == nil || deps.Models == nil || deps.Engine == nil || deps.Reports == nil {
		return nil, fmt.Errorf("pipeline needs a normalizer, model provider, engine and report writer")
	}
	if deps.Diarizer == nil {
		deps.Diarizer = diarization.Disabled{}
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.JobRetention <= 0 {
		config.JobRetention = defaultRetention
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanup
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		config:  config,
		deps:    deps,
		logger:  logger.With("component", "pipeline"),
		metrics: m,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
		jobs:    make(map[string]*Job),
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// Process runs req through every stage and returns the job with its report.
// Stage failures are captured in the job's result and still produce a report;
// only cancellation, shutdown and report write failures return an error.
func (m *Manager) Process(ctx context.Context, req Request) (*Job, error) {
	if m.stopped.Load() {
		return nil, ErrStopped
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.cancelled.Add(1)
		return nil, fmt.Errorf("%w: waiting for a pipeline slot: %w", recognizer.ErrCancelled, err)
	}
	defer m.sem.Release(1)

	job := newJob(req.Asset.Filename, req.Language)
	m.register(job)
	defer job.markDone()

	m.active.Add(1)
	defer m.active.Add(-1)
	m.metrics.RecordPipelineStarted()

	logger := m.logger.With(slog.String("job_id", job.ID))
	logger.Info("Pipeline started",
		slog.String("filename", req.Asset.Filename),
		slog.String("format", req.Asset.Format()),
		slog.Int64("size", req.Asset.Size),
		slog.String("language", req.Language),
	)

	result, err := m.run(ctx, job, req, logger)
	if err != nil {
		m.cancelled.Add(1)
		m.metrics.RecordPipelineFinished("cancelled")
		logger.Warn("Pipeline cancelled", slog.String("error", err.Error()))
		return job, err
	}

	start := time.Now()
	artifact, err := m.deps.Reports.Generate(result, report.FileMeta{
		Filename: req.Asset.Filename,
		Size:     req.Asset.Size,
	})
	m.metrics.RecordStage(stageReport, time.Since(start).Seconds())
	if err != nil {
		if job.State() != StateFailed {
			failJob(job, stageReport, err, logger)
		}
		m.failed.Add(1)
		m.metrics.RecordStageFailure(stageReport, "write")
		m.metrics.RecordPipelineFinished("error")
		logger.Error("Report generation failed", slog.String("error", err.Error()))
		return job, fmt.Errorf("failed to generate report: %w", err)
	}

	if err := job.reportReady(result, artifact); err != nil {
		artifact.Remove()
		return job, err
	}

	m.processed.Add(1)
	outcome := "success"
	if result.Success {
		m.succeeded.Add(1)
		m.metrics.RecordTranscription(len(result.WordTimestamps), result.Confidence)
	} else {
		outcome = "failed"
		m.failed.Add(1)
	}
	m.metrics.RecordPipelineFinished(outcome)

	logger.Info("Pipeline finished",
		slog.String("outcome", outcome),
		slog.Float64("confidence", result.Confidence),
		slog.String("report", artifact.Path),
		slog.Duration("elapsed", time.Since(job.CreatedAt)),
	)

	return job, nil
}

// run executes the transcription stages. Failures become a failed result; the
// returned error is reserved for cancellation.
func (m *Manager) run(ctx context.Context, job *Job, req Request, logger *slog.Logger) (*transcription.Result, error) {
	capture := func(stage string, err error) (*transcription.Result, error) {
		if ctx.Err() != nil || errors.Is(err, recognizer.ErrCancelled) {
			if !errors.Is(err, recognizer.ErrCancelled) {
				err = fmt.Errorf("%w during %s: %w", recognizer.ErrCancelled, stage, err)
			}
			failJob(job, stage, err, logger)
			return nil, err
		}

		kind := transcription.FailureKind(err)
		m.metrics.RecordStageFailure(stage, kind)
		logger.Warn("Pipeline stage failed",
			slog.String("stage", stage),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		failJob(job, stage, err, logger)
		return transcription.Failed(err), nil
	}

	lang, err := transcription.ParseLanguage(req.Language)
	if err != nil {
		return capture(stageLanguage, err)
	}
	locale := lang.Locale()

	advance(job, StateNormalizing, logger)
	start := time.Now()
	pcm, err := m.deps.Normalizer.Normalize(ctx, req.Asset)
	m.metrics.RecordStage(stageNormalize, time.Since(start).Seconds())
	if err != nil {
		return capture(stageNormalize, err)
	}
	defer func() {
		if err := pcm.Close(); err != nil {
			logger.Warn("Failed to remove normalized audio", slog.String("error", err.Error()))
		}
	}()

	advance(job, StateRecognizing, logger)
	start = time.Now()
	model, err := m.deps.Models.Get(ctx, locale)
	m.metrics.RecordStage(stageModel, time.Since(start).Seconds())
	if err != nil {
		return capture(stageModel, err)
	}

	strategy := m.selectStrategy(ctx, pcm, logger)
	job.setRecognition(locale, strategy.Name())

	start = time.Now()
	transcript, err := strategy.Transcribe(ctx, pcm, model)
	m.metrics.RecordStage(stageRecognize, time.Since(start).Seconds())
	if err != nil {
		return capture(stageRecognize, err)
	}

	advance(job, StateAggregating, logger)
	start = time.Now()
	result := transcript.Aggregate(transcription.Source{Service: model.Name(), Locale: locale})
	m.metrics.RecordStage(stageAggregate, time.Since(start).Seconds())
	if !result.Success {
		m.metrics.RecordStageFailure(stageAggregate, "no_speech")
		failJob(job, stageAggregate, recognizer.ErrNoSpeechDetected, logger)
	}

	return result, nil
}

// advance moves job to the next stage. A rejected move is logged and the
// pipeline carries on, since the report is still owed to the caller.
func advance(job *Job, to State, logger *slog.Logger) {
	if err := job.transition(to); err != nil {
		logger.Error("Job state transition rejected",
			slog.String("to", string(to)),
			slog.String("error", err.Error()),
		)
	}
}

// failJob records a stage failure on job, logging a rejected transition.
func failJob(job *Job, stage string, cause error, logger *slog.Logger) {
	if err := job.fail(stage, cause); err != nil {
		logger.Error("Job failure not recorded",
			slog.String("stage", stage),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
	}
}

// selectStrategy asks the diarizer for speaker turns. A diarizer error is
// logged and the file is transcribed as a whole.
func (m *Manager) selectStrategy(ctx context.Context, pcm *audio.NormalizedAudio, logger *slog.Logger) Strategy {
	segments, err := m.deps.Diarizer.Segment(ctx, pcm)
	if err != nil {
		logger.Warn("Speaker diarization failed, falling back to flat transcription",
			slog.String("diarizer", m.deps.Diarizer.Name()),
			slog.String("error", err.Error()),
		)
		segments = nil
	}
	return SelectStrategy(m.deps.Engine, segments, logger)
}

func (m *Manager) register(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

// GetJob retrieves a retained job
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[id]
	return job, exists
}

// GetAllJobs returns a snapshot of all retained jobs, oldest first
func (m *Manager) GetAllJobs() []JobInfo {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	infos := make([]JobInfo, 0, len(jobs))
	for _, job := range jobs {
		infos = append(infos, job.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// GetStats returns current manager statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	retained := len(m.jobs)
	m.mu.RUnlock()

	return ManagerStats{
		ActivePipelines: m.active.Load(),
		MaxConcurrent:   m.config.MaxConcurrent,
		RetainedJobs:    retained,
		Processed:       m.processed.Load(),
		Succeeded:       m.succeeded.Load(),
		Failed:          m.failed.Load(),
		Cancelled:       m.cancelled.Load(),
	}
}

// Stop rejects new work, waits for running pipelines until ctx ends and stops
// the cleanup routine.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("Stopping pipeline manager...")

	// Holding every slot means no pipeline is running.
	drainErr := m.sem.Acquire(ctx, int64(m.config.MaxConcurrent))
	if drainErr == nil {
		defer m.sem.Release(int64(m.config.MaxConcurrent))
	}

	m.cancel()
	<-m.cleanup

	stats := m.GetStats()
	m.logger.Info("Pipeline manager stopped",
		slog.Int("retained_jobs", stats.RetainedJobs),
		slog.Uint64("processed", stats.Processed),
		slog.Uint64("succeeded", stats.Succeeded),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("cancelled", stats.Cancelled),
	)

	if drainErr != nil {
		return fmt.Errorf("pipelines still running at shutdown: %w", drainErr)
	}
	return nil
}

// startCleanupRoutine runs in a separate goroutine to evict expired jobs
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Job cleanup routine started",
		slog.Duration("retention", m.config.JobRetention),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Job cleanup routine stopping")
			return
		case now := <-ticker.C:
			m.cleanupExpiredJobs(now)
		}
	}
}

// cleanupExpiredJobs drops finished jobs idle for longer than the retention.
// Reports that were never delivered are removed with them.
func (m *Manager) cleanupExpiredJobs(now time.Time) int {
	expired := make([]*Job, 0)

	m.mu.RLock()
	for _, job := range m.jobs {
		if job.finished() && now.Sub(job.lastUpdate()) > m.config.JobRetention {
			expired = append(expired, job)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	m.mu.Lock()
	for _, job := range expired {
		delete(m.jobs, job.ID)
	}
	m.mu.Unlock()

	for _, job := range expired {
		if job.State() == StateReportReady {
			if err := job.Artifact().Remove(); err != nil {
				m.logger.Warn("Failed to remove undelivered report",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	m.logger.Info("Cleaned up expired jobs", slog.Int("expired_count", len(expired)))
	return len(expired)
}
