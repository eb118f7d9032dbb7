// Package nodes defines the advisory capability contract and the immutable
// registry of nodes consulted for every directive.
package nodes

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// Node is an independent advisory capability provider. Evaluate must honour
// ctx cancellation; the caller records a timeout abstain if it does not.
type Node interface {
	ID() string
	Evaluate(ctx context.Context, d contracts.Directive) (contracts.NodeVote, error)
}

// Registry is the fixed set of nodes built at startup. There is no mutation
// API; concurrent sessions read it without locking.
type Registry struct {
	nodes []Node
	byID  map[string]Node
}

// NewRegistry validates ids and freezes the node set.
func NewRegistry(nodes ...Node) (*Registry, error) {
	r := &Registry{
		nodes: make([]Node, 0, len(nodes)),
		byID:  make(map[string]Node, len(nodes)),
	}
	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("node %d is nil", i)
		}
		id := n.ID()
		if id == "" {
			return nil, fmt.Errorf("node %d has empty id", i)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate node id %q", id)
		}
		r.byID[id] = n
		r.nodes = append(r.nodes, n)
	}
	return r, nil
}

// Nodes returns a copy of the registered nodes in registration order.
func (r *Registry) Nodes() []Node {
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Len is the number of registered nodes.
func (r *Registry) Len() int { return len(r.nodes) }

// Get looks up a node by id.
func (r *Registry) Get(id string) (Node, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		ids[i] = n.ID()
	}
	return ids
}
