package processor

import (
	"context"
	"fmt"
	"os/exec"
)

// runFFmpeg is a small synchronous helper used by preprocess/postprocess
// steps that need a quick transcode (resample audio, remux a track, split
// frames) rather than the full C7 subprocess contract. These are sub-second
// internal steps, not the job's own long-running inference call.
func runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %v: %w: %s", args, err, out)
	}
	return nil
}
