package modelstate

import (
	"log/slog"
	"testing"
	"time"

	"inferno/cache"
	"inferno/diskcache"
	"inferno/jobstore"
)

type fakeWeights struct {
	weights map[string]*jobstore.ModelWeight
}

func (f *fakeWeights) GetModelWeight(token string) (*jobstore.ModelWeight, error) {
	return f.weights[token], nil
}

func newTestResolver(t *testing.T, weights map[string]*jobstore.ModelWeight) *Resolver {
	t.Helper()
	disk, err := diskcache.New(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("diskcache.New: %v", err)
	}
	lfu := cache.NewVirtualLFU(2)
	return New(&fakeWeights{weights: weights}, disk, lfu)
}

func TestResolver_UnknownTokenIsModelNotFound(t *testing.T) {
	r := newTestResolver(t, nil)
	_, err := r.Resolve(diskcache.CategorySynthesizer, "missing")
	if err != ErrModelNotFound {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
}

func TestResolver_DeletedWeightIsModelDeleted(t *testing.T) {
	deletedAt := time.Now()
	r := newTestResolver(t, map[string]*jobstore.ModelWeight{
		"w1": {Token: "w1", DeletedAt: &deletedAt},
	})

	_, err := r.Resolve(diskcache.CategorySynthesizer, "w1")
	if err != ErrModelDeleted {
		t.Fatalf("expected ErrModelDeleted, got %v", err)
	}
}

func TestResolver_ReportsOnDiskAndInMemoryState(t *testing.T) {
	weights := map[string]*jobstore.ModelWeight{
		"w1": {Token: "w1", Category: string(diskcache.CategorySynthesizer)},
	}
	r := newTestResolver(t, weights)

	state, err := r.Resolve(diskcache.CategorySynthesizer, "w1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if state.OnDisk {
		t.Fatal("expected OnDisk false before any download")
	}
	if state.InMemory {
		t.Fatal("expected InMemory false before any LFU insert")
	}
}
