package processor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"inferno/blobstore"
	"inferno/cache"
	"inferno/core/data"
	"inferno/core/trace"
	"inferno/diskcache"
	"inferno/jobstore"
	"inferno/modelstate"
	"inferno/progress"
	"inferno/subprocess"
)

// ErrFilesystemFull signals that a weight download hit ENOSPC; the caller
// abandons the batch so the filesystem can settle after emergency eviction.
var ErrFilesystemFull = errors.New("processor: filesystem full")

// Deps bundles every collaborator component the pipeline composes.
type Deps struct {
	Store             *jobstore.Store
	Resolver          *modelstate.Resolver
	DiskStrategizer   *cache.Strategizer
	MemoryStrategizer *cache.Strategizer
	LFU               *cache.VirtualLFU
	Disk              *diskcache.Cache
	Blobs             *blobstore.Client
	Progress          *progress.Hub
	// TraceDB is the shared jobs database connection used to record a
	// per-step audit trail for each job run (core/trace.EnsureSchema must
	// have been run against it already). A tracer is built fresh per job
	// since each job has its own type and ID; nil disables tracing.
	TraceDB       *sql.DB
	Hostname      string
	LeaseDuration time.Duration
	ScratchRoot   string
	Logger        *slog.Logger
	// MaxConcurrency bounds the number of per-job cancellation-watcher
	// goroutines alive at once. Defaults to 1 if unset.
	MaxConcurrency int
}

// Pipeline runs the shared skeleton of C9 over whichever JobTypeProcessor
// is registered for a job's type.
type Pipeline struct {
	deps       Deps
	processors map[jobstore.JobType]JobTypeProcessor
	watchSem   chan struct{}
}

// New builds a Pipeline, wiring each entry of table as the processor for its
// job type.
func New(deps Deps, table map[jobstore.JobType]JobTypeProcessor) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxConcurrency <= 0 {
		deps.MaxConcurrency = 1
	}
	return &Pipeline{
		deps:       deps,
		processors: table,
		watchSem:   make(chan struct{}, deps.MaxConcurrency),
	}
}

// Process runs the full lifecycle for one job already returned by a dispatch
// batch. It never panics on a processor's behalf: an error from a step
// short-circuits to the appropriate failure path.
func (p *Pipeline) Process(ctx context.Context, job *jobstore.Job) error {
	proc, ok := p.processors[job.Type]
	if !ok {
		return p.deps.Store.MarkPermanentlyDead(job.ID, fmt.Sprintf("no processor registered for job type %q", job.Type))
	}

	reporter := p.deps.Progress.For(job.ID.String())

	// Step 1: grab the lease.
	locked, err := p.deps.Store.LockAndMarkPending(job.ID, p.deps.Hostname, p.deps.LeaseDuration)
	if err != nil {
		return fmt.Errorf("processor: lock job %s: %w", job.ID, err)
	}
	if !locked {
		return nil // another worker already claimed it; abandon silently
	}

	runID := job.ID.String()
	tracer, tracerErr := trace.NewWorkflowTracer(p.deps.TraceDB, string(job.Type), runID, p.deps.Hostname)
	if tracerErr != nil {
		p.deps.Logger.Warn("processor: step tracing unavailable", "job_id", job.ID, "error", tracerErr)
	}

	traceID, traceErr := p.traceStart(tracer, "lease", 1, nil)

	required, err := proc.RequiredModels(job)
	if err != nil {
		p.traceFail(tracer, traceID, traceErr, "required_models_error", err)
		return p.deps.Store.MarkPermanentlyDead(job.ID, fmt.Sprintf("compute required models: %v", err))
	}
	p.traceComplete(tracer, traceID, traceErr, "", nil)

	// Step 2: resolve model state; permanent failures end the job here.
	resolveTraceID, resolveTraceErr := p.traceStart(tracer, "resolve", 2, nil)
	states := make([]*modelstate.State, 0, len(required))
	for _, req := range required {
		state, err := p.deps.Resolver.Resolve(req.Category, req.Token)
		if errors.Is(err, modelstate.ErrModelNotFound) || errors.Is(err, modelstate.ErrModelDeleted) {
			p.traceFail(tracer, resolveTraceID, resolveTraceErr, "model_not_found", err)
			return p.deps.Store.MarkPermanentlyDead(job.ID, err.Error())
		}
		if err != nil {
			p.traceFail(tracer, resolveTraceID, resolveTraceErr, "resolve_error", err)
			return p.releaseOnTransientError(job, fmt.Errorf("resolve model state: %w", err))
		}
		states = append(states, state)
	}
	p.traceComplete(tracer, resolveTraceID, resolveTraceErr, "", nil)

	// Step 3: cache-miss arbitration. Any WaitOrSkip releases the lease
	// without touching the attempts counter.
	for _, state := range states {
		if !state.OnDisk {
			if p.deps.DiskStrategizer.OnMiss(state.DiskPath) == cache.WaitOrSkip {
				return p.deps.Store.Release(job.ID)
			}
		}
		if !state.InMemory {
			if p.deps.MemoryStrategizer.OnMiss(state.DiskPath) == cache.WaitOrSkip {
				return p.deps.Store.Release(job.ID)
			}
		}
	}

	// Step 4: download missing weights.
	downloadTraceID, downloadTraceErr := p.traceStart(tracer, "download", 3, nil)
	for i, state := range states {
		if state.OnDisk {
			continue
		}
		reporter.LogStatus(fmt.Sprintf("downloading %s", strings.TrimSuffix(string(required[i].Category), "s")))
		if err := p.download(ctx, required[i], state); err != nil {
			if errors.Is(err, ErrFilesystemFull) {
				evicted, evErr := p.deps.Disk.EmergencyEvict(required[i].Category, 4)
				p.deps.Logger.Warn("processor: emergency evict after ENOSPC", "evicted", evicted, "error", evErr)
				p.traceFail(tracer, downloadTraceID, downloadTraceErr, "filesystem_full", err)
				return err
			}
			p.traceFail(tracer, downloadTraceID, downloadTraceErr, "download_error", err)
			return p.releaseOnTransientError(job, err)
		}
	}
	p.traceComplete(tracer, downloadTraceID, downloadTraceErr, "", nil)

	// Step 5: per-job scratch directory, destroyed on every exit path.
	workDir := filepath.Join(p.deps.ScratchRoot, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return p.releaseOnTransientError(job, fmt.Errorf("create scratch dir: %w", err))
	}
	defer os.RemoveAll(workDir)
	defer reporter.LogStatus("done")

	// Step 6: preprocess.
	preprocessTraceID, preprocessTraceErr := p.traceStart(tracer, "preprocess", 4, nil)
	reporter.LogStatus("preprocessing")
	if err := proc.Preprocess(ctx, job, workDir, reporter); err != nil {
		p.traceFail(tracer, preprocessTraceID, preprocessTraceErr, "preprocess_error", err)
		return p.deps.Store.MarkFailure(job.ID, fmt.Sprintf("preprocess: %v", err))
	}
	p.traceComplete(tracer, preprocessTraceID, preprocessTraceErr, "", nil)

	// Step 7: mutate the virtual LFU, telling the subprocess which model (if
	// any) it should unload to make room for this one.
	var unload string
	for _, state := range states {
		evicted, didEvict := p.deps.LFU.InsertReturningReplaced(state.DiskPath)
		if didEvict {
			unload = evicted
		}
	}
	// Step 8: launch the subprocess.
	runner, outputPath, err := proc.BuildRunner(job, workDir, unload)
	if err != nil {
		return p.deps.Store.MarkFailure(job.ID, fmt.Sprintf("build runner: %v", err))
	}

	runTraceID, runTraceErr := p.traceStart(tracer, "run", 5, nil)
	reporter.LogStatus("running inference")
	cancel, stopWatch := p.watchForCancellation(ctx, job.ID)
	result := runner.Run(ctx, subprocess.Request{
		StdoutPath:     filepath.Join(workDir, "stdout.log"),
		StderrPath:     filepath.Join(workDir, "stderr.log"),
		Timeout:        10 * time.Minute,
		Cancel:         cancel,
		PreviewDir:     workDir,
		OnPreviewFrame: func(path string) { reporter.PublishPreviewFrame([]byte(path)) },
	})
	stopWatch()

	if result.Status != subprocess.Success {
		p.traceFail(tracer, runTraceID, runTraceErr, "subprocess_"+result.Status.String(), fmt.Errorf("%s", result.Reason))
		select {
		case <-cancel:
			// User cancellation is terminal; it does not count as a failed attempt.
			return p.deps.Store.MarkCancelled(job.ID)
		default:
		}
		return p.deps.Store.MarkFailure(job.ID, fmt.Sprintf("subprocess %s: %s", result.Status, result.Reason))
	}
	p.traceComplete(tracer, runTraceID, runTraceErr, outputPath, nil)

	// Step 9: verify the output artifact exists.
	info, err := os.Stat(outputPath)
	if err != nil {
		return p.deps.Store.MarkFailure(job.ID, fmt.Sprintf("missing output artifact: %v", err))
	}

	// Step 10: postprocess. Best-effort: fall back to the raw artifact on
	// failure rather than failing the whole job.
	postprocessTraceID, postprocessTraceErr := p.traceStart(tracer, "postprocess", 6, nil)
	finalPath := outputPath
	if refined, err := proc.Postprocess(ctx, job, workDir, outputPath); err != nil {
		p.deps.Logger.Warn("processor: postprocess failed, using raw artifact", "job_id", job.ID, "error", err)
		p.traceFail(tracer, postprocessTraceID, postprocessTraceErr, "postprocess_error", err)
	} else {
		finalPath = refined
		if refinedInfo, err := os.Stat(finalPath); err == nil {
			info = refinedInfo
		}
		p.traceComplete(tracer, postprocessTraceID, postprocessTraceErr, finalPath, nil)
	}

	// Step 11: upload.
	uploadTraceID, uploadTraceErr := p.traceStart(tracer, "upload", 7, nil)
	reporter.LogStatus("uploading result")
	hash, err := sha256File(finalPath)
	if err != nil {
		p.traceFail(tracer, uploadTraceID, uploadTraceErr, "hash_error", err)
		return p.deps.Store.MarkFailure(job.ID, fmt.Sprintf("hash artifact: %v", err))
	}
	objectPath := blobstore.ObjectPath("results/", hash, strings.TrimPrefix(filepath.Ext(finalPath), "."))
	if err := p.deps.Blobs.Upload(ctx, objectPath, finalPath, proc.ContentType()); err != nil {
		p.traceFail(tracer, uploadTraceID, uploadTraceErr, "upload_error", err)
		return p.releaseOnTransientError(job, fmt.Errorf("upload result: %w", err))
	}
	p.traceComplete(tracer, uploadTraceID, uploadTraceErr, objectPath, nil)

	// Step 12/13: persist the result and mark the job done.
	markDoneTraceID, markDoneTraceErr := p.traceStart(tracer, "mark_done", 8, nil)
	result2 := map[string]interface{}{
		"bucket_path": objectPath,
		"size_bytes":  info.Size(),
		"sha256":      hash,
	}
	if err := p.deps.Store.MarkDone(job.ID, result2); err != nil {
		p.traceFail(tracer, markDoneTraceID, markDoneTraceErr, "mark_done_error", err)
		return fmt.Errorf("processor: mark done: %w", err)
	}
	p.traceComplete(tracer, markDoneTraceID, markDoneTraceErr, "", nil)

	if job.IsFragment() {
		p.checkFanIn(ctx, job)
	}

	return nil
}

func (p *Pipeline) download(ctx context.Context, req RequiredModel, state *modelstate.State) error {
	objectPath := state.Weight.BucketPath()
	if err := p.deps.Blobs.Download(ctx, objectPath, state.DiskPath); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return ErrFilesystemFull
		}
		return fmt.Errorf("download %s: %w", objectPath, err)
	}
	return nil
}

func (p *Pipeline) releaseOnTransientError(job *jobstore.Job, cause error) error {
	if err := p.deps.Store.MarkFailure(job.ID, cause.Error()); err != nil {
		return fmt.Errorf("%w (and mark-failure also failed: %v)", cause, err)
	}
	return cause
}

// watchForCancellation polls the job store every 30s for a user-initiated
// cancellation and signals the subprocess runner's single-shot cancel
// channel, matching the contract C7 expects. The watcher goroutine itself
// runs under watchSem, bounding how many can be alive across the worker at
// once, and the returned stop func must be called as soon as the runner
// returns so the goroutine doesn't outlive the job.
func (p *Pipeline) watchForCancellation(ctx context.Context, jobID data.UUID) (cancelCh <-chan struct{}, stop func()) {
	cancel := make(chan struct{})
	done := make(chan struct{})
	var stopOnce sync.Once

	p.watchSem <- struct{}{}
	go func() {
		defer func() { <-p.watchSem }()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				status, err := p.deps.Store.GetStatus(jobID)
				if err == nil && status == jobstore.StatusCancelledByUser {
					close(cancel)
					return
				}
			}
		}
	}()

	return cancel, func() { stopOnce.Do(func() { close(done) }) }
}

// traceStart/traceComplete/traceFail take the per-job tracer explicitly
// (built fresh in Process, since each job has its own type and ID) rather
// than reading it off Deps, so a nil tracer (tracing unavailable) or a
// not-yet-constructed one never leaks across jobs. inputPath is always ""
// here: none of this pipeline's steps consume a single named input file
// worth hashing per step.
func (p *Pipeline) traceStart(tracer *trace.WorkflowTracer, step string, index int, meta map[string]interface{}) (string, error) {
	if tracer == nil {
		return "", nil
	}
	return tracer.TraceStepStart(step, index, "", meta)
}

func (p *Pipeline) traceComplete(tracer *trace.WorkflowTracer, traceID string, traceErr error, outputPath string, meta map[string]interface{}) {
	if tracer == nil || traceID == "" || traceErr != nil {
		return
	}
	_ = tracer.TraceStepComplete(traceID, outputPath, nil, meta)
}

func (p *Pipeline) traceFail(tracer *trace.WorkflowTracer, traceID string, traceErr error, code string, cause error) {
	if tracer == nil || traceID == "" || traceErr != nil {
		return
	}
	_ = tracer.TraceStepFailed(traceID, code, cause.Error())
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
