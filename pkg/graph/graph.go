package graph

import (
	"github.com/ebetica/batch-shipyard/pkg/api"
)

// Node is a schedulable unit: one task keyed by its resolved identifier.
type Node struct {
	TaskID  string
	Ordinal int
	Spec    api.TaskSpec

	deps       []string
	dependents []string
}

// Dependencies returns the resolved identifiers of the node's predecessors.
func (n *Node) Dependencies() []string {
	return n.deps
}

// Dependents returns the resolved identifiers of the node's direct successors.
func (n *Node) Dependents() []string {
	return n.dependents
}

// Graph is the directed acyclic graph of a job's tasks.
type Graph struct {
	nodes map[string]*Node
	// declared keeps the resolved ids in declaration order so scheduling
	// stays reproducible across runs.
	declared []string
}

// Build converts a job's task list plus depends_on edges into a DAG keyed by
// resolved task identifier. Missing task ids are generated before edge
// resolution so generated ids are referenceable like declared ones.
func Build(job api.JobSpec) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]*Node, len(job.Tasks)),
		declared: make([]string, 0, len(job.Tasks)),
	}

	// Resolve identifiers first
	for i, t := range job.Tasks {
		id := api.ResolvedTaskID(job.ID, i, t)
		if _, dup := g.nodes[id]; dup {
			return nil, api.NewValidationError("task id %s is not unique", id)
		}
		// Stamp the resolved id on the node's copy of the spec so downstream
		// consumers never see an empty id for a generated task.
		t.ID = id
		g.nodes[id] = &Node{
			TaskID:  id,
			Ordinal: i,
			Spec:    t,
		}
		g.declared = append(g.declared, id)
	}

	// Then resolve edges
	for _, id := range g.declared {
		n := g.nodes[id]
		for _, dep := range n.Spec.DependsOn {
			target, ok := g.nodes[dep]
			if !ok {
				return nil, api.UnknownDependencyError{TaskID: id, DependsOn: dep}
			}
			n.deps = append(n.deps, dep)
			target.dependents = append(target.dependents, id)
		}
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkCycles runs a DFS over every node, tracking the current path.
func (g *Graph) checkCycles() error {
	visited := make(map[string]bool)
	for _, id := range g.declared {
		if !visited[id] {
			path := make(map[string]bool)
			if err := g.visit(id, visited, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) visit(id string, visited, path map[string]bool) error {
	visited[id] = true
	path[id] = true
	for _, dep := range g.nodes[id].deps {
		if path[dep] {
			return api.CyclicDependencyError{TaskID: dep}
		}
		if !visited[dep] {
			if err := g.visit(dep, visited, path); err != nil {
				return err
			}
		}
	}
	path[id] = false
	return nil
}

// Node returns the node with the given resolved identifier.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// TaskIDs returns the resolved task identifiers in declaration order.
func (g *Graph) TaskIDs() []string {
	out := make([]string, len(g.declared))
	copy(out, g.declared)
	return out
}

// TopologicalOrder returns a stable topological order of the task ids: when
// several tasks have no unresolved predecessor, their relative order is the
// declaration order in the job.
func (g *Graph) TopologicalOrder() []string {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.declared {
		indegree[id] = len(g.nodes[id].deps)
	}

	order := make([]string, 0, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))
	for len(order) < len(g.declared) {
		for _, id := range g.declared {
			if done[id] || indegree[id] != 0 {
				continue
			}
			done[id] = true
			order = append(order, id)
			for _, dependent := range g.nodes[id].dependents {
				indegree[dependent]--
			}
		}
	}
	return order
}

// TransitiveDependents returns every task reachable through dependent edges
// from the given task, used to propagate failures through the subtree.
func (g *Graph) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(string)
	walk = func(from string) {
		for _, dep := range g.nodes[from].dependents {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	if _, ok := g.nodes[id]; ok {
		walk(id)
	}
	return out
}
