// Package processor implements the per-job-type pipeline (C9): the shared
// fourteen-step skeleton described in the design, specialized per job type
// only in its preprocess and postprocess hooks.
package processor

import (
	"context"

	"inferno/diskcache"
	"inferno/jobstore"
	"inferno/progress"
	"inferno/subprocess"
)

// RequiredModel names one model weight a job type needs resolved and
// downloaded before inference can run.
type RequiredModel struct {
	Category diskcache.Category
	Token    string
}

// JobTypeProcessor supplies the steps that differ per job type; everything
// else (leasing, model resolution, cache arbitration, download, subprocess
// launch, upload, persistence, cleanup) is common and lives in Pipeline.
type JobTypeProcessor interface {
	// RequiredModels returns the weights this job needs resolved, given its
	// decoded payload.
	RequiredModels(job *jobstore.Job) ([]RequiredModel, error)

	// Preprocess prepares inputs inside workDir (step 6), e.g. writing a
	// prompt file or extracting/resampling source audio.
	Preprocess(ctx context.Context, job *jobstore.Job, workDir string, reporter *progress.Reporter) error

	// BuildRunner returns the runner to invoke for this job and the output
	// path it is expected to produce. unloadModel is the disk path the
	// virtual LFU cache evicted to make room for this job's models, if any
	// ("" if nothing was evicted); job types that drive a sidecar capable of
	// unloading a model pass it through as part of the invocation. Pipeline
	// fills in the shared request plumbing (cancel channel, preview
	// directory, timeout) before calling Runner.Run.
	BuildRunner(job *jobstore.Job, workDir, unloadModel string) (runner subprocess.Runner, outputPath string, err error)

	// Postprocess is given the raw artifact path produced by the subprocess
	// and returns the final artifact path to upload (step 10). Each
	// postprocess step is best-effort: on error, the pipeline falls back to
	// the pre-postprocess artifact rather than failing the job.
	Postprocess(ctx context.Context, job *jobstore.Job, workDir, rawArtifactPath string) (string, error)

	// ContentType is the MIME type recorded for the uploaded result.
	ContentType() string
}
