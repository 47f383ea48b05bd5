package coordinator

import (
	"sync"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/pkg/errors"
)

// ResolveFunc resolves a symbolic num_instances token against live pool state.
type ResolveFunc func(ctx context.Context, p pool.Provider) (int, error)

var (
	resolverMu sync.Mutex
	resolvers  = make(map[string]ResolveFunc)
)

// RegisterResolver adds a pool-sizing strategy for a symbolic num_instances
// token. New strategies plug in here without touching the coordinator.
func RegisterResolver(symbol string, f ResolveFunc) {
	resolverMu.Lock()
	defer resolverMu.Unlock()
	resolvers[symbol] = f
}

func init() {
	RegisterResolver(api.NumInstancesPoolCurrentDedicated, func(ctx context.Context, p pool.Provider) (int, error) {
		return p.CurrentDedicatedCount(ctx)
	})
}

// resolveInstances resolves num_instances to a concrete integer. Symbolic
// tokens are re-resolved at every call since pool size can change between
// submission and scheduling.
func resolveInstances(ctx context.Context, n api.NumInstances, p pool.Provider) (int, error) {
	if n.IsLiteral() {
		if n.Literal <= 0 {
			return 0, api.NewValidationError("num_instances must be positive, got %d", n.Literal)
		}
		return n.Literal, nil
	}
	resolverMu.Lock()
	f, ok := resolvers[n.Symbol]
	resolverMu.Unlock()
	if !ok {
		return 0, api.NewValidationError("unknown num_instances token %q", n.Symbol)
	}
	resolved, err := f(ctx, p)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot resolve num_instances token %q", n.Symbol)
	}
	if resolved <= 0 {
		return 0, errors.Errorf("num_instances token %q resolved to %d", n.Symbol, resolved)
	}
	return resolved, nil
}
