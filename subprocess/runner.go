// Package subprocess implements the runner (C7) that launches an inference
// sidecar, either a CLI subprocess or a localhost HTTP server, and enforces
// the timeout/cancellation/preview-frame contract every job processor
// depends on.
package subprocess

import (
	"context"
	"time"
)

// Status is the tagged outcome of a subprocess run.
type Status int

const (
	Success Status = iota
	Failure
	Timeout
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result is returned by every Runner implementation.
type Result struct {
	Status Status
	Reason string // populated for Failure/Timeout
}

// Request bundles everything a Runner needs to execute one job step.
type Request struct {
	// StdoutPath/StderrPath are where the child's output streams are teed.
	StdoutPath string
	StderrPath string
	// Timeout bounds the whole run; zero means no bound beyond ctx.
	Timeout time.Duration
	// Cancel fires (closes) when the user cancels the job externally.
	Cancel <-chan struct{}
	// PreviewDir is polled for newly written frame files, if non-empty.
	PreviewDir string
	// OnPreviewFrame is invoked (from a background goroutine) for each
	// newly observed preview frame path.
	OnPreviewFrame func(path string)
}

// Runner executes one inference step and reports how it ended. CLIRunner and
// HTTPRunner both implement it so the job processor does not need to branch
// on invocation shape beyond picking which one to construct per job type.
type Runner interface {
	Run(ctx context.Context, req Request) Result
}
