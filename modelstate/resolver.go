// Package modelstate implements the model-state resolver (C8): a read-only
// join of the job store's weight records, the on-disk cache, and the
// in-memory (virtual GPU) cache that tells the processor whether a model is
// ready to use without mutating any of the three.
package modelstate

import (
	"errors"
	"fmt"

	"inferno/cache"
	"inferno/diskcache"
	"inferno/jobstore"
)

// ErrModelNotFound means no weight record exists for the requested token.
var ErrModelNotFound = errors.New("modelstate: model not found")

// ErrModelDeleted means the weight record exists but has been soft-deleted.
var ErrModelDeleted = errors.New("modelstate: model deleted")

// State describes whether a model weight is resident on disk, in the
// virtual GPU cache, or both.
type State struct {
	Weight   *jobstore.ModelWeight
	OnDisk   bool
	InMemory bool
	DiskPath string
}

// Resolver joins the weight table, the disk cache, and the virtual LFU
// cache. Both ErrModelNotFound and ErrModelDeleted are permanent failures;
// the caller (the job processor) is expected to mark the job permanently
// dead rather than retry.
type Resolver struct {
	weights WeightLookup
	disk    *diskcache.Cache
	lfu     *cache.VirtualLFU
}

// WeightLookup is the subset of jobstore's weight lookup the resolver
// needs, kept as an interface so tests can substitute a fake without a real
// database.
type WeightLookup interface {
	GetModelWeight(token string) (*jobstore.ModelWeight, error)
}

// New builds a Resolver over the given weight lookup, disk cache, and
// virtual LFU cache.
func New(weights WeightLookup, disk *diskcache.Cache, lfu *cache.VirtualLFU) *Resolver {
	return &Resolver{weights: weights, disk: disk, lfu: lfu}
}

// Resolve looks up the weight record for token and reports its residency.
// It never mutates the disk cache or the virtual LFU cache; the processor
// is responsible for inserting into the LFU cache right before launching
// the subprocess.
func (r *Resolver) Resolve(category diskcache.Category, token string) (*State, error) {
	weight, err := r.weights.GetModelWeight(token)
	if err != nil {
		return nil, fmt.Errorf("modelstate: lookup %s: %w", token, err)
	}
	if weight == nil {
		return nil, ErrModelNotFound
	}
	if weight.DeletedAt != nil {
		return nil, ErrModelDeleted
	}

	path, err := r.disk.Resolve(category, weight.Token)
	if err != nil {
		return nil, fmt.Errorf("modelstate: resolve disk path: %w", err)
	}

	onDisk, err := r.disk.Exists(category, weight.Token)
	if err != nil {
		return nil, fmt.Errorf("modelstate: check disk existence: %w", err)
	}

	return &State{
		Weight:   weight,
		OnDisk:   onDisk,
		InMemory: r.lfu.InCache(path),
		DiskPath: path,
	}, nil
}
