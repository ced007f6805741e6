package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"inferno/diskcache"
	"inferno/jobstore"
	"inferno/progress"
	"inferno/subprocess"
)

// TTS drives text-to-speech jobs: a synthesizer weight plus an optional
// pretrained vocoder, a CLI invocation, and a single audio artifact with no
// post-processing.
type TTS struct {
	SynthesizerCommand string
	TerminateGrace     time.Duration
}

func (TTS) RequiredModels(job *jobstore.Job) ([]RequiredModel, error) {
	synth, _ := job.Payload["synthesizer_token"].(string)
	if synth == "" {
		return nil, fmt.Errorf("tts: payload missing synthesizer_token")
	}
	models := []RequiredModel{{Category: diskcache.CategorySynthesizer, Token: synth}}
	if vocoder, ok := job.Payload["vocoder_token"].(string); ok && vocoder != "" {
		models = append(models, RequiredModel{Category: diskcache.CategoryPretrainedVocoder, Token: vocoder})
	}
	return models, nil
}

func (t TTS) Preprocess(ctx context.Context, job *jobstore.Job, workDir string, reporter *progress.Reporter) error {
	text, _ := job.Payload["text"].(string)
	if text == "" {
		return fmt.Errorf("tts: payload missing text")
	}
	reporter.LogStatus("writing prompt file")
	return os.WriteFile(filepath.Join(workDir, "prompt.txt"), []byte(text), 0o644)
}

func (t TTS) BuildRunner(job *jobstore.Job, workDir, unloadModel string) (subprocess.Runner, string, error) {
	out := filepath.Join(workDir, "output.wav")
	args := []string{
		"--prompt-file", filepath.Join(workDir, "prompt.txt"),
		"--output", out,
	}
	if unloadModel != "" {
		args = append(args, "--unload", unloadModel)
	}
	runner := subprocess.NewCLIRunner("tts", t.SynthesizerCommand, args, t.TerminateGrace, time.Second, nil)
	return runner, out, nil
}

func (TTS) Postprocess(ctx context.Context, job *jobstore.Job, workDir, rawArtifactPath string) (string, error) {
	return rawArtifactPath, nil
}

func (TTS) ContentType() string { return "audio/wav" }
