package dispatch

import (
	"context"
	"math"
	"strings"

	"inferno/jobstore"
)

// isCrashError reports whether err looks like the inference sidecar itself
// crashed or became unreachable, as opposed to a single job's payload being
// the problem. Matched by signature text rather than a typed sentinel
// because these errors cross a subprocess/HTTP boundary where the
// underlying cause is rarely wrapped cleanly.
func isCrashError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout")
}

func countCrashErrors(errs []error) int {
	n := 0
	for _, e := range errs {
		if isCrashError(e) {
			n++
		}
	}
	return n
}

// bisectAndIsolate is called when more than half of a batch's jobs failed
// with a crash-classified error: rather than retrying the whole batch (and
// hitting the same poison payload again), it recursively splits the batch
// in half, isolating the single job whose payload crashes the sidecar.
func (l *Loop) bisectAndIsolate(ctx context.Context, jobs []*jobstore.Job, depth int) {
	maxDepth := int(math.Log2(float64(l.BatchSize))) + 3
	if depth > maxDepth {
		l.Logger.Error("dispatch: bisection max depth reached, giving up", "depth", depth, "remaining_jobs", len(jobs))
		return
	}

	if len(jobs) == 1 {
		l.Logger.Error("dispatch: poison pill isolated via bisection", "job_id", jobs[0].ID)
		if err := l.Store.MarkPermanentlyDead(jobs[0].ID, "isolated as poison pill via bisection"); err != nil {
			l.Logger.Error("dispatch: mark poison failed", "job_id", jobs[0].ID, "error", err)
		}
		return
	}

	mid := len(jobs) / 2
	left, right := jobs[:mid], jobs[mid:]

	leftErrs := l.runBatch(ctx, left)
	if countCrashErrors(leftErrs)*2 > len(left) {
		l.bisectAndIsolate(ctx, left, depth+1)
	}

	rightErrs := l.runBatch(ctx, right)
	if countCrashErrors(rightErrs)*2 > len(right) {
		l.bisectAndIsolate(ctx, right, depth+1)
	}
}
