package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"inferno/diskcache"
	"inferno/jobstore"
	"inferno/progress"
	"inferno/subprocess"
)

// LipSync aligns a source face video or image with a driving audio track.
type LipSync struct {
	SyncCommand    string
	TerminateGrace time.Duration
}

func (LipSync) RequiredModels(job *jobstore.Job) ([]RequiredModel, error) {
	checkpoint, _ := job.Payload["checkpoint_token"].(string)
	if checkpoint == "" {
		return nil, fmt.Errorf("lipsync: payload missing checkpoint_token")
	}
	return []RequiredModel{{Category: diskcache.CategoryCheckpoint, Token: checkpoint}}, nil
}

func (l LipSync) Preprocess(ctx context.Context, job *jobstore.Job, workDir string, reporter *progress.Reporter) error {
	facePath, _ := job.Payload["face_path"].(string)
	audioPath, _ := job.Payload["driving_audio_path"].(string)
	if facePath == "" || audioPath == "" {
		return fmt.Errorf("lipsync: payload missing face_path or driving_audio_path")
	}
	reporter.LogStatus("aligning face and audio")
	return nil
}

func (l LipSync) BuildRunner(job *jobstore.Job, workDir, unloadModel string) (subprocess.Runner, string, error) {
	out := filepath.Join(workDir, "synced.mp4")
	facePath, _ := job.Payload["face_path"].(string)
	audioPath, _ := job.Payload["driving_audio_path"].(string)
	args := []string{"--face", facePath, "--audio", audioPath, "--output", out}
	if unloadModel != "" {
		args = append(args, "--unload", unloadModel)
	}
	runner := subprocess.NewCLIRunner("lipsync", l.SyncCommand, args, l.TerminateGrace, time.Second, nil)
	return runner, out, nil
}

func (l LipSync) Postprocess(ctx context.Context, job *jobstore.Job, workDir, rawArtifactPath string) (string, error) {
	audioPath, _ := job.Payload["driving_audio_path"].(string)
	if audioPath == "" {
		return rawArtifactPath, nil
	}
	remuxed := filepath.Join(workDir, "remuxed.mp4")
	if err := runFFmpeg(ctx, "-y", "-i", rawArtifactPath, "-i", audioPath,
		"-c:v", "copy", "-map", "0:v:0", "-map", "1:a:0", remuxed); err != nil {
		return "", fmt.Errorf("remux audio: %w", err)
	}
	return remuxed, nil
}

func (LipSync) ContentType() string { return "video/mp4" }
