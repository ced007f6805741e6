package processor

import (
	"context"
	"fmt"

	"inferno/jobstore"
)

// checkFanIn is called after a fragment job completes. If every sibling
// fragment under the same parent has also reached a terminal success
// state, it aggregates their results and marks the parent done.
func (p *Pipeline) checkFanIn(ctx context.Context, job *jobstore.Job) {
	if job.ParentID == nil {
		return
	}

	fragments, err := p.deps.Store.ListFragments(*job.ParentID)
	if err != nil {
		p.deps.Logger.Error("processor: list fragments for fan-in", "parent_id", job.ParentID, "error", err)
		return
	}

	done := 0
	for _, f := range fragments {
		if f.Status == jobstore.StatusDone {
			done++
		}
	}
	if done < job.TotalFragments || len(fragments) < job.TotalFragments {
		return
	}

	result, err := p.aggregateFragments(fragments)
	if err != nil {
		p.deps.Logger.Error("processor: aggregate fragments", "parent_id", job.ParentID, "error", err)
		return
	}

	if err := p.deps.Store.MarkDone(*job.ParentID, result); err != nil {
		p.deps.Logger.Error("processor: mark parent done after fan-in", "parent_id", job.ParentID, "error", err)
	}
}

// aggregateFragments combines each fragment's result reference, in
// fragment-index order, into the parent job's result. It only references
// already-uploaded blob paths; it does not re-upload or re-run inference.
func (p *Pipeline) aggregateFragments(fragments []*jobstore.Job) (map[string]interface{}, error) {
	parts := make([]map[string]interface{}, 0, len(fragments))
	for _, f := range fragments {
		if f.Status != jobstore.StatusDone {
			continue
		}
		path, ok := f.Result["bucket_path"]
		if !ok {
			return nil, fmt.Errorf("fragment %s missing bucket_path", f.ID)
		}
		parts = append(parts, map[string]interface{}{
			"fragment_index": f.FragmentIndex,
			"bucket_path":    path,
		})
	}
	return map[string]interface{}{"fragments": parts}, nil
}
