package pool

import (
	"context"
	"sort"
	"sync"
)

// NodeID identifies a compute node in the pool.
type NodeID string

// Provider is the pool state query capability. Implementations answer with
// live state: symbolic instance counts are re-resolved at schedule time, so
// answers must not be cached from job submission.
type Provider interface {
	// CurrentDedicatedCount returns the pool's current dedicated node count.
	CurrentDedicatedCount(ctx context.Context) (int, error)

	// EligibleNodes returns the nodes currently able to take on work.
	EligibleNodes(ctx context.Context) ([]NodeID, error)
}

// StaticProvider is a fixed-membership Provider for local pools and tests.
type StaticProvider struct {
	mu    sync.RWMutex
	nodes []NodeID
}

// NewStaticProvider returns a Provider over a fixed node set.
func NewStaticProvider(nodes ...NodeID) *StaticProvider {
	p := &StaticProvider{}
	p.SetNodes(nodes...)
	return p
}

// SetNodes replaces the node set.
func (p *StaticProvider) SetNodes(nodes ...NodeID) {
	sorted := make([]NodeID, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	p.mu.Lock()
	p.nodes = sorted
	p.mu.Unlock()
}

// CurrentDedicatedCount implements Provider.
func (p *StaticProvider) CurrentDedicatedCount(ctx context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes), nil
}

// EligibleNodes implements Provider.
func (p *StaticProvider) EligibleNodes(ctx context.Context) ([]NodeID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]NodeID, len(p.nodes))
	copy(out, p.nodes)
	return out, nil
}
