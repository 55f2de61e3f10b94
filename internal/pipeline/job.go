package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lukehanabi/audio-to-doc/internal/report"
	"github.com/lukehanabi/audio-to-doc/internal/transcription"
)

// State is a pipeline job state.
type State string

const (
	StateReceived    State = "received"
	StateNormalizing State = "normalizing"
	StateRecognizing State = "recognizing"
	StateAggregating State = "aggregating"
	StateReportReady State = "report_ready"
	StateDelivered   State = "delivered"
	StateFailed      State = "failed"
)

// transitions lists the legal moves out of each state. A failed job still
// gets a report, so failed leads to report_ready.
var transitions = map[State][]State{
	StateReceived:    {StateNormalizing, StateFailed},
	StateNormalizing: {StateRecognizing, StateFailed},
	StateRecognizing: {StateAggregating, StateFailed},
	StateAggregating: {StateReportReady, StateFailed},
	StateFailed:      {StateReportReady},
	StateReportReady: {StateDelivered, StateFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateChange records when a job entered a state.
type StateChange struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Job tracks one upload through the pipeline.
type Job struct {
	ID        string
	Filename  string
	Language  string
	CreatedAt time.Time

	mu          sync.RWMutex
	state       State
	updatedAt   time.Time
	history     []StateChange
	locale      string
	strategy    string
	result      *transcription.Result
	artifact    *report.Artifact
	err         error
	failedStage string
	done        bool
}

// JobInfo is a point-in-time view of a job for monitoring
type JobInfo struct {
	ID          string        `json:"id"`
	Filename    string        `json:"filename"`
	Language    string        `json:"language"`
	Locale      string        `json:"locale,omitempty"`
	Strategy    string        `json:"strategy,omitempty"`
	State       State         `json:"state"`
	Success     bool          `json:"success"`
	Confidence  float64       `json:"confidence"`
	Error       string        `json:"error,omitempty"`
	FailedStage string        `json:"failed_stage,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Duration    time.Duration `json:"duration"`
	History     []StateChange `json:"history"`
}

func newJob(filename, language string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		Language:  language,
		CreatedAt: now,
		state:     StateReceived,
		updatedAt: now,
		history:   []StateChange{{State: StateReceived, At: now}},
	}
}

// transition moves the job to the next state or rejects the move.
func (j *Job) transition(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to)
}

func (j *Job) transitionLocked(to State) error {
	if !CanTransition(j.state, to) {
		return fmt.Errorf("illegal state transition %s -> %s for job %s", j.state, to, j.ID)
	}
	now := time.Now()
	j.state = to
	j.updatedAt = now
	j.history = append(j.history, StateChange{State: to, At: now})
	return nil
}

// fail records err against stage and moves the job to failed.
func (j *Job) fail(stage string, err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if terr := j.transitionLocked(StateFailed); terr != nil {
		return terr
	}
	j.err = err
	j.failedStage = stage
	return nil
}

// reportReady attaches the final result and report artifact.
func (j *Job) reportReady(result *transcription.Result, artifact *report.Artifact) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transitionLocked(StateReportReady); err != nil {
		return err
	}
	j.result = result
	j.artifact = artifact
	return nil
}

func (j *Job) setRecognition(locale, strategy string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.locale = locale
	j.strategy = strategy
}

// MarkDelivered records that the report reached the client.
func (j *Job) MarkDelivered() error {
	return j.transition(StateDelivered)
}

// MarkFailed records that delivering the report failed.
func (j *Job) MarkFailed(err error) error {
	return j.fail("delivery", err)
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Result returns the transcription result once the report is ready.
func (j *Job) Result() *transcription.Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// Artifact returns the generated report, nil before report_ready.
func (j *Job) Artifact() *report.Artifact {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.artifact
}

// Err returns the error that failed the job, if any.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

func (j *Job) markDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
}

// finished reports whether Process has returned for the job.
func (j *Job) finished() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.done
}

func (j *Job) lastUpdate() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.updatedAt
}

// Info returns a snapshot of the job.
func (j *Job) Info() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()

	info := JobInfo{
		ID:          j.ID,
		Filename:    j.Filename,
		Language:    j.Language,
		Locale:      j.locale,
		Strategy:    j.strategy,
		State:       j.state,
		FailedStage: j.failedStage,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.updatedAt,
		Duration:    j.updatedAt.Sub(j.CreatedAt),
		History:     append([]StateChange(nil), j.history...),
	}
	if j.result != nil {
		info.Success = j.result.Success
		info.Confidence = j.result.Confidence
		info.Error = j.result.Error
	}
	if info.Error == "" && j.err != nil {
		info.Error = transcription.Describe(j.err)
	}
	return info
}
