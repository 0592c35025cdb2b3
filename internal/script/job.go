package script

import "time"

// JobStatus is the lifecycle state of a reanalysis job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Active reports whether the job still occupies the project's in-flight slot.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobRunning
}

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// Step names the pipeline stage a running job is in.
type Step string

const (
	StepHook      Step = "hook"
	StepStructure Step = "structure"
	StepEmotional Step = "emotional"
	StepCTA       Step = "cta"
	StepSynthesis Step = "synthesis"
	StepSaving    Step = "saving"
)

// AnalyzerSteps lists the concurrent analyzer steps in canonical order.
var AnalyzerSteps = []Step{StepHook, StepStructure, StepEmotional, StepCTA}

// Job is a snapshot of a reanalysis job row.
type Job struct {
	JobID              string     `json:"jobId" yaml:"jobId"`
	ProjectID          string     `json:"projectId" yaml:"projectId"`
	IdempotencyKey     string     `json:"idempotencyKey" yaml:"idempotencyKey"`
	Status             JobStatus  `json:"status" yaml:"status"`
	Step               Step       `json:"step,omitempty" yaml:"step,omitempty"`
	Progress           int        `json:"progress" yaml:"progress"`
	Error              string     `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind          string     `json:"errorKind,omitempty" yaml:"errorKind,omitempty"`
	CanRetry           bool       `json:"canRetry" yaml:"canRetry"`
	CandidateVersionID *int64     `json:"candidateVersionId,omitempty" yaml:"candidateVersionId,omitempty"`
	Scenes             Scenes     `json:"scenes,omitempty" yaml:"scenes,omitempty"`
	FullScript         string     `json:"fullScript,omitempty" yaml:"fullScript,omitempty"`
	RetryOf            string     `json:"retryOf,omitempty" yaml:"retryOf,omitempty"`
	Attempt            int        `json:"attempt" yaml:"attempt"`
	LastHeartbeat      *time.Time `json:"lastHeartbeat,omitempty" yaml:"lastHeartbeat,omitempty"`
	CreatedAt          time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt" yaml:"updatedAt"`
	StartedAt          *time.Time `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// NewJob describes a job row to insert alongside its candidate version.
type NewJob struct {
	JobID          string
	ProjectID      string
	IdempotencyKey string
	Scenes         Scenes
	FullScript     string
	RetryOf        string
	Attempt        int
}

// JobProgress is a step/progress update written while a job runs.
type JobProgress struct {
	Step     Step
	Progress int
}
