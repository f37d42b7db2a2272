package a11y

import "time"

// JobStatus represents the lifecycle state of a scan job.
type JobStatus string

// Job status values tracked by the queue.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Tier is the scan service level, with separate quota pools per tier.
type Tier string

// Scan tiers.
const (
	TierStarter Tier = "starter"
	TierFull    Tier = "full"
)

// NotificationType selects how a finished job is announced.
type NotificationType string

// Notification types carried on a job.
const (
	NotifyNone  NotificationType = "none"
	NotifyBasic NotificationType = "basic"
	NotifyRich  NotificationType = "rich"
)

// Job is one unit of asynchronous scan work. It is owned by the queue until
// dequeued, then by the worker for the duration of processing.
type Job struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	URL          string           `json:"url"`
	SiteName     string           `json:"site_name"`
	SiteID       string           `json:"site_id,omitempty"`
	Tier         Tier             `json:"tier"`
	Notification NotificationType `json:"notification"`
	ClientIP     string           `json:"client_ip,omitempty"`
	Options      Options          `json:"options"`

	Status       JobStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
}
