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

// VoiceConversion re-synthesizes a source recording in a target speaker's
// voice: a checkpoint weight, a resample-to-16kHz preprocess step, no
// post-processing.
type VoiceConversion struct {
	ConversionCommand string
	TerminateGrace    time.Duration
}

func (VoiceConversion) RequiredModels(job *jobstore.Job) ([]RequiredModel, error) {
	checkpoint, _ := job.Payload["checkpoint_token"].(string)
	if checkpoint == "" {
		return nil, fmt.Errorf("voiceconversion: payload missing checkpoint_token")
	}
	return []RequiredModel{{Category: diskcache.CategoryCheckpoint, Token: checkpoint}}, nil
}

func (v VoiceConversion) Preprocess(ctx context.Context, job *jobstore.Job, workDir string, reporter *progress.Reporter) error {
	sourcePath, _ := job.Payload["source_audio_path"].(string)
	if sourcePath == "" {
		return fmt.Errorf("voiceconversion: payload missing source_audio_path")
	}
	reporter.LogStatus("resampling source audio")
	resampled := filepath.Join(workDir, "source_16k.wav")
	return runFFmpeg(ctx, "-y", "-i", sourcePath, "-ar", "16000", "-ac", "1", resampled)
}

func (v VoiceConversion) BuildRunner(job *jobstore.Job, workDir, unloadModel string) (subprocess.Runner, string, error) {
	out := filepath.Join(workDir, "output.wav")
	args := []string{
		"--source", filepath.Join(workDir, "source_16k.wav"),
		"--output", out,
	}
	if unloadModel != "" {
		args = append(args, "--unload", unloadModel)
	}
	runner := subprocess.NewCLIRunner("voice-conversion", v.ConversionCommand, args, v.TerminateGrace, time.Second, nil)
	return runner, out, nil
}

func (VoiceConversion) Postprocess(ctx context.Context, job *jobstore.Job, workDir, rawArtifactPath string) (string, error) {
	return rawArtifactPath, nil
}

func (VoiceConversion) ContentType() string { return "audio/wav" }
