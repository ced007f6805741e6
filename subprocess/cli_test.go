package subprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCLIRunner_TeesOutputToNamedFiles(t *testing.T) {
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout.log")
	stderrPath := filepath.Join(dir, "stderr.log")

	r := NewCLIRunner("echo-both", "sh", []string{"-c", "echo out-line; echo err-line 1>&2"}, time.Second, 50*time.Millisecond, nil)

	res := r.Run(context.Background(), Request{StdoutPath: stdoutPath, StderrPath: stderrPath})
	if res.Status != Success {
		t.Fatalf("expected success, got %+v", res)
	}

	stdoutBytes, err := os.ReadFile(stdoutPath)
	if err != nil {
		t.Fatalf("expected stdout file to exist: %v", err)
	}
	if !strings.Contains(string(stdoutBytes), "out-line") {
		t.Fatalf("expected stdout file to contain child's stdout, got %q", stdoutBytes)
	}

	stderrBytes, err := os.ReadFile(stderrPath)
	if err != nil {
		t.Fatalf("expected stderr file to exist: %v", err)
	}
	if !strings.Contains(string(stderrBytes), "err-line") {
		t.Fatalf("expected stderr file to contain child's stderr, got %q", stderrBytes)
	}
}

func TestCLIRunner_CancelSendsSIGTERM(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "caught-term")
	// sleep runs in the background so the shell sits in `wait`, which a
	// trapped signal interrupts; a foreground sleep would defer the trap.
	script := `trap 'echo caught > ` + marker + `; exit 0' TERM; sleep 5 & wait`

	r := NewCLIRunner("trap-term", "sh", []string{"-c", script}, time.Second, 20*time.Millisecond, nil)

	// Cancel only after the shell has had time to install its trap.
	cancel := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(cancel)
	}()

	res := r.Run(context.Background(), Request{Cancel: cancel})
	if res.Status != Timeout || res.Reason != "cancelled" {
		t.Fatalf("expected cancelled timeout, got %+v", res)
	}

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected process to observe SIGTERM and write marker, got stat error: %v", err)
	}
}

func TestCLIRunner_KillsAfterGraceWhenTermIgnored(t *testing.T) {
	r := NewCLIRunner("ignore-term", "sh", []string{"-c", "trap '' TERM; sleep 5"}, 100*time.Millisecond, 20*time.Millisecond, nil)

	cancel := make(chan struct{})
	close(cancel)

	start := time.Now()
	res := r.Run(context.Background(), Request{Cancel: cancel})
	elapsed := time.Since(start)

	if res.Status != Timeout || res.Reason != "cancelled" {
		t.Fatalf("expected cancelled timeout, got %+v", res)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("expected the process to be killed shortly after the grace period, took %s", elapsed)
	}
}
