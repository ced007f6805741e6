// Package jobstore implements the durable job queue (C5) and the data model
// that jobs, model weights, media files, and prompts share.
package jobstore

import (
	"time"

	"inferno/core/data"
)

// Status is a job's position in its state machine.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusPending           Status = "pending"
	StatusDone              Status = "done"
	StatusPermanentlyDead   Status = "permanently_dead"
	StatusCancelledByUser   Status = "cancelled_by_user"
)

// JobType names one of the supported generative-media pipelines.
type JobType string

const (
	JobTypeTTS               JobType = "tts"
	JobTypeVoiceConversion   JobType = "voice_conversion"
	JobTypeVideoStyleTransfer JobType = "video_style_transfer"
	JobTypeLipSync           JobType = "lip_sync"
	JobTypeImageGeneration   JobType = "image_generation"
)

// Job is a persistent unit of work. Payload/Result are opaque JSON blobs
// whose shape is interpreted by the processor registered for Type.
type Job struct {
	ID              data.UUID
	IdempotencyKey  string
	Type            JobType
	Status          Status
	Payload         map[string]interface{}
	Result          map[string]interface{}
	Priority        uint8
	Attempts        int
	MaxAttempts     int
	LastFailureReason string
	PromptHash      string
	CreatorID       string
	ParentID        *data.UUID
	FragmentIndex   int
	TotalFragments  int
	LeaseHostname   string
	LeaseExpiresAt  *time.Time
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// IsFragment reports whether this job is one piece of a fanned-out parent.
func (j *Job) IsFragment() bool {
	return j.ParentID != nil
}

// ModelWeight is an immutable, content-addressed model file record.
type ModelWeight struct {
	Token          string
	Category       string
	Type           string
	Title          string
	FileSizeBytes  int64
	SHA256         string
	BucketHash     string
	BucketPrefix   string
	BucketExtension string
	Creator        string
	Visibility     string
	Version        int
	DeletedAt      *time.Time
}

// BucketPath reconstructs the canonical blob-store path for this weight.
func (m *ModelWeight) BucketPath() string {
	return m.BucketPrefix + m.BucketHash + "." + m.BucketExtension
}

// MediaFile is an immutable artifact, either a job result or a job input.
type MediaFile struct {
	Token      string
	Type       string
	MIME       string
	BucketPath string
	SizeBytes  int64
	DurationMS int64
	Checksum   string
}

// Prompt is an immutable, hashed textual input, shared across jobs that
// submit identical input for deduplication and abuse classification.
type Prompt struct {
	Token string
	Hash  string
	Body  string
}
