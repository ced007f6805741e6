package processor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"inferno/diskcache"
	"inferno/jobstore"
	"inferno/progress"
	"inferno/subprocess"
)

// VideoStyleTransfer runs a ComfyUI workflow over a source video. The
// workflow JSON is itself a ModelWeight of category workflow. Fan-out into
// per-shot fragment jobs happens at submission time, before a fragment ever
// reaches this processor; a fragment's Preprocess only extracts its own
// shot's frames.
type VideoStyleTransfer struct {
	ComfyUIServerURL string
	RunTimeout       time.Duration
	// WatermarkImagePath is overlaid onto the bottom-right corner of the
	// final video. Empty disables watermarking entirely.
	WatermarkImagePath string
	Logger             *slog.Logger
}

func (VideoStyleTransfer) RequiredModels(job *jobstore.Job) ([]RequiredModel, error) {
	workflow, _ := job.Payload["workflow_token"].(string)
	if workflow == "" {
		return nil, fmt.Errorf("videostyletransfer: payload missing workflow_token")
	}
	return []RequiredModel{{Category: diskcache.CategoryWorkflow, Token: workflow}}, nil
}

func (v VideoStyleTransfer) Preprocess(ctx context.Context, job *jobstore.Job, workDir string, reporter *progress.Reporter) error {
	sourcePath, _ := job.Payload["source_video_path"].(string)
	if sourcePath == "" {
		return fmt.Errorf("videostyletransfer: payload missing source_video_path")
	}
	reporter.LogStatus("extracting frames")
	framesDir := filepath.Join(workDir, "frames")
	if err := ensureDir(framesDir); err != nil {
		return err
	}
	return runFFmpeg(ctx, "-y", "-i", sourcePath, filepath.Join(framesDir, "frame_%05d.png"))
}

func (v VideoStyleTransfer) BuildRunner(job *jobstore.Job, workDir, unloadModel string) (subprocess.Runner, string, error) {
	out := filepath.Join(workDir, "styled.mp4")
	runner := subprocess.NewHTTPRunner(
		"comfyui", v.ComfyUIServerURL, "/prompt", v.RunTimeout,
		func(req subprocess.Request) (interface{}, error) {
			workflowToken, _ := job.Payload["workflow_token"].(string)
			return map[string]interface{}{
				"workflow_token": workflowToken,
				"frames_dir":     filepath.Join(workDir, "frames"),
				"output_path":    out,
				"unload_model":   unloadModel,
			}, nil
		},
		nil, nil,
	)
	return runner, out, nil
}

func (v VideoStyleTransfer) Postprocess(ctx context.Context, job *jobstore.Job, workDir, rawArtifactPath string) (string, error) {
	sourcePath, _ := job.Payload["source_video_path"].(string)
	restored := rawArtifactPath
	if sourcePath != "" {
		remuxed := filepath.Join(workDir, "remuxed.mp4")
		if err := runFFmpeg(ctx, "-y", "-i", rawArtifactPath, "-i", sourcePath,
			"-c:v", "copy", "-map", "0:v:0", "-map", "1:a:0", remuxed); err != nil {
			return "", fmt.Errorf("remux audio: %w", err)
		}
		restored = remuxed
	}

	if v.WatermarkImagePath == "" {
		return restored, nil
	}

	watermarked := filepath.Join(workDir, "watermarked.mp4")
	err := runFFmpeg(ctx, "-y", "-i", restored, "-i", v.WatermarkImagePath,
		"-filter_complex", "overlay=W-w-10:H-h-10", "-codec:a", "copy", watermarked)
	if err != nil {
		v.logger().Warn("videostyletransfer: watermark failed, uploading non-watermarked artifact", "job_id", job.ID, "error", err)
		return restored, nil
	}
	return watermarked, nil
}

func (v VideoStyleTransfer) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}

func (VideoStyleTransfer) ContentType() string { return "video/mp4" }
