// Package engine implements the task-graph evaluation engine at the heart
// of the bisection service: an immutable DAG of typed vertices per job,
// advanced one bottom-up pass at a time in response to inbound events.
package engine

import (
	"errors"
	"fmt"
)

// ErrMalformedGraph is wrapped by every graph-construction failure:
// duplicate ids, dangling edges, self-loops, cycles, empty graphs.
var ErrMalformedGraph = errors.New("engine: malformed graph")

// Vertex is one immutable topology element of a job's graph. The mutable
// per-vertex execution state lives in model.Task.
type Vertex struct {
	ID      string
	Type    string
	Payload map[string]any
}

// Dependency is a directed edge: From depends on To, so To must be
// evaluated before From.
type Dependency struct {
	From string
	To   string
}

// TaskGraph is a validated, immutable DAG. Constructed once when a job is
// created; topology never mutates afterwards.
type TaskGraph struct {
	vertices []Vertex
	byID     map[string]int
	deps     map[string][]string // dependency ids in edge-insertion order
	edges    []Dependency
}

// NewTaskGraph builds and validates a TaskGraph. It rejects empty graphs,
// duplicate vertex ids, edges referencing unknown vertices, self-loops and
// cycles; all rejections wrap ErrMalformedGraph.
func NewTaskGraph(vertices []Vertex, edges []Dependency) (*TaskGraph, error) {
	if len(vertices) == 0 {
		return nil, fmt.Errorf("%w: no vertices", ErrMalformedGraph)
	}

	byID := make(map[string]int, len(vertices))
	for i, v := range vertices {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: vertex id is required", ErrMalformedGraph)
		}
		if _, dup := byID[v.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate vertex id %q", ErrMalformedGraph, v.ID)
		}
		byID[v.ID] = i
	}

	deps := make(map[string][]string, len(vertices))
	for _, e := range edges {
		if _, ok := byID[e.From]; !ok {
			return nil, fmt.Errorf("%w: edge references unknown vertex %q", ErrMalformedGraph, e.From)
		}
		if _, ok := byID[e.To]; !ok {
			return nil, fmt.Errorf("%w: edge references unknown vertex %q", ErrMalformedGraph, e.To)
		}
		if e.From == e.To {
			return nil, fmt.Errorf("%w: self-loop on vertex %q", ErrMalformedGraph, e.From)
		}
		deps[e.From] = append(deps[e.From], e.To)
	}

	g := &TaskGraph{
		vertices: append([]Vertex(nil), vertices...),
		byID:     byID,
		deps:     deps,
		edges:    append([]Dependency(nil), edges...),
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs Kahn's algorithm over the dependency edges.
func (g *TaskGraph) checkAcyclic() error {
	indeg := make(map[string]int, len(g.vertices))
	dependents := make(map[string][]string, len(g.vertices))
	for _, v := range g.vertices {
		indeg[v.ID] = len(g.deps[v.ID])
		for _, dep := range g.deps[v.ID] {
			dependents[dep] = append(dependents[dep], v.ID)
		}
	}

	var ready []string
	for _, v := range g.vertices {
		if indeg[v.ID] == 0 {
			ready = append(ready, v.ID)
		}
	}

	seen := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		seen++
		for _, dependent := range dependents[id] {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	if seen != len(g.vertices) {
		return fmt.Errorf("%w: dependency cycle", ErrMalformedGraph)
	}
	return nil
}

// Len returns the number of vertices.
func (g *TaskGraph) Len() int { return len(g.vertices) }

// Vertices returns the vertices in construction order.
func (g *TaskGraph) Vertices() []Vertex {
	return append([]Vertex(nil), g.vertices...)
}

// Edges returns the dependency edges in construction order.
func (g *TaskGraph) Edges() []Dependency {
	return append([]Dependency(nil), g.edges...)
}

// Vertex looks up a vertex by id.
func (g *TaskGraph) Vertex(id string) (Vertex, bool) {
	i, ok := g.byID[id]
	if !ok {
		return Vertex{}, false
	}
	return g.vertices[i], true
}

// DependenciesOf returns the vertices id depends on, in edge-insertion
// order. Order is part of the contract: operator vertices combine their
// dependency outputs positionally.
func (g *TaskGraph) DependenciesOf(id string) []string {
	return append([]string(nil), g.deps[id]...)
}
