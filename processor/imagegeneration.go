package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"inferno/diskcache"
	"inferno/jobstore"
	"inferno/progress"
	"inferno/subprocess"
)

// ImageGeneration renders a still image from a text prompt and optional
// reference image. No post-processing step.
type ImageGeneration struct {
	GenerateCommand string
	TerminateGrace  time.Duration
}

func (ImageGeneration) RequiredModels(job *jobstore.Job) ([]RequiredModel, error) {
	checkpoint, _ := job.Payload["checkpoint_token"].(string)
	if checkpoint == "" {
		return nil, fmt.Errorf("imagegeneration: payload missing checkpoint_token")
	}
	models := []RequiredModel{{Category: diskcache.CategoryCheckpoint, Token: checkpoint}}
	if lora, ok := job.Payload["lora_token"].(string); ok && lora != "" {
		models = append(models, RequiredModel{Category: diskcache.CategoryLoRA, Token: lora})
	}
	return models, nil
}

func (ImageGeneration) Preprocess(ctx context.Context, job *jobstore.Job, workDir string, reporter *progress.Reporter) error {
	prompt, _ := job.Payload["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("imagegeneration: payload missing prompt")
	}
	reporter.LogStatus("validating prompt")
	return nil
}

func (g ImageGeneration) BuildRunner(job *jobstore.Job, workDir, unloadModel string) (subprocess.Runner, string, error) {
	out := filepath.Join(workDir, "output.png")
	prompt, _ := job.Payload["prompt"].(string)
	args := []string{"--prompt", prompt, "--output", out}
	if lora, ok := job.Payload["lora_token"].(string); ok && lora != "" {
		args = append(args, "--lora", lora)
	}
	if unloadModel != "" {
		args = append(args, "--unload", unloadModel)
	}
	runner := subprocess.NewCLIRunner("image-generation", g.GenerateCommand, args, g.TerminateGrace, time.Second, nil)
	return runner, out, nil
}

func (ImageGeneration) Postprocess(ctx context.Context, job *jobstore.Job, workDir, rawArtifactPath string) (string, error) {
	return rawArtifactPath, nil
}

func (ImageGeneration) ContentType() string { return "image/png" }
