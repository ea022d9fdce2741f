package handlers

import (
	"fmt"

	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/model"
)

// BisectionSpec describes the graph of one bisection job: a build → run →
// read_value chain per examined change, all feeding one find_culprit root.
type BisectionSpec struct {
	// Changes are the revisions under examination, oldest first. The
	// culprit comparison is positional, so order is part of the contract.
	Changes   []string
	Builder   string
	Target    string
	Benchmark string
	// Iterations is the repetitions per benchmark run; 0 means the run
	// handler's default.
	Iterations int

	ComparisonMode model.ComparisonMode
	// Magnitude is the effect size worth detecting, pre-scaled by the
	// caller against the metric's spread.
	Magnitude float64
}

// RootTaskID is the vertex id of the decision task every bisection graph
// roots at.
const RootTaskID = "find_culprit"

// BisectionGraph constructs the task graph for spec. At least two changes
// are required: bisection compares neighbours.
func BisectionGraph(spec BisectionSpec) (*engine.TaskGraph, error) {
	if len(spec.Changes) < 2 {
		return nil, fmt.Errorf("handlers: bisection needs at least two changes, got %d", len(spec.Changes))
	}

	var vertices []engine.Vertex
	var edges []engine.Dependency
	for _, change := range spec.Changes {
		buildID := "build_" + change
		runID := "run_" + change
		readID := "read_value_" + change

		vertices = append(vertices,
			engine.Vertex{ID: buildID, Type: TypeBuild, Payload: map[string]any{
				"change":  change,
				"builder": spec.Builder,
				"target":  spec.Target,
			}},
			engine.Vertex{ID: runID, Type: TypeRun, Payload: map[string]any{
				"change":     change,
				"benchmark":  spec.Benchmark,
				"iterations": spec.Iterations,
			}},
			engine.Vertex{ID: readID, Type: TypeReadValue, Payload: map[string]any{
				"change": change,
			}},
		)
		edges = append(edges,
			engine.Dependency{From: runID, To: buildID},
			engine.Dependency{From: readID, To: runID},
			engine.Dependency{From: RootTaskID, To: readID},
		)
	}

	vertices = append(vertices, engine.Vertex{ID: RootTaskID, Type: TypeFindCulprit, Payload: map[string]any{
		"comparison_mode": string(spec.ComparisonMode),
		"magnitude":       spec.Magnitude,
	}})

	return engine.NewTaskGraph(vertices, edges)
}
