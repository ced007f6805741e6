package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPRunner drives a job step against an already-running localhost sidecar
// (e.g. a persistent vLLM-style server) instead of spawning a child process
// per job. Preview-frame polling works the same way as CLIRunner: the
// sidecar writes frames to req.PreviewDir as it progresses.
type HTTPRunner struct {
	name       string
	serverURL  string
	path       string
	buildBody  func(req Request) (interface{}, error)
	parseReply func(body []byte) error
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPRunner builds an HTTPRunner that POSTs to serverURL+path. buildBody
// constructs the JSON payload from the Request; parseReply inspects the
// response body (e.g. to stash a result payload) and returns an error if the
// sidecar reported a semantic failure despite a 200 status.
func NewHTTPRunner(name, serverURL, path string, timeout time.Duration, buildBody func(Request) (interface{}, error), parseReply func([]byte) error, logger *slog.Logger) *HTTPRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRunner{
		name:       name,
		serverURL:  serverURL,
		path:       path,
		buildBody:  buildBody,
		parseReply: parseReply,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Run sends one request to the sidecar and waits for its reply, honoring
// req.Cancel and req.Timeout alongside the client's own timeout.
func (r *HTTPRunner) Run(ctx context.Context, req Request) Result {
	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	runCtx, cancelOnSignal := context.WithCancel(runCtx)
	defer cancelOnSignal()
	go func() {
		select {
		case <-req.Cancel:
			cancelOnSignal()
		case <-runCtx.Done():
		}
	}()

	if req.PreviewDir != "" && req.OnPreviewFrame != nil {
		pollDone := make(chan struct{})
		go pollPreviewFrames(runCtx, req.PreviewDir, time.Second, req.OnPreviewFrame, pollDone)
	}

	body, err := r.buildBody(req)
	if err != nil {
		return Result{Status: Failure, Reason: fmt.Sprintf("build request: %v", err)}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{Status: Failure, Reason: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, r.serverURL+r.path, bytes.NewReader(payload))
	if err != nil {
		return Result{Status: Failure, Reason: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- r.do(httpReq)
	}()

	select {
	case res := <-resultCh:
		r.logger.Debug("subprocess: http step finished", "runner", r.name, "duration", time.Since(start), "status", res.Status)
		return res
	case <-req.Cancel:
		return Result{Status: Timeout, Reason: "cancelled"}
	case <-runCtx.Done():
		return Result{Status: Timeout, Reason: runCtx.Err().Error()}
	}
}

func (r *HTTPRunner) do(httpReq *http.Request) Result {
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Result{Status: Failure, Reason: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: Failure, Reason: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{Status: Failure, Reason: fmt.Sprintf("sidecar returned status %d: %s", resp.StatusCode, string(respBody))}
	}

	if r.parseReply != nil {
		if err := r.parseReply(respBody); err != nil {
			return Result{Status: Failure, Reason: err.Error()}
		}
	}

	return Result{Status: Success}
}
