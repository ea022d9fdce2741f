package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/engine"
)

func vertex(id, typ string) engine.Vertex {
	return engine.Vertex{ID: id, Type: typ, Payload: map[string]any{}}
}

func TestNewTaskGraph(t *testing.T) {
	g, err := engine.NewTaskGraph(
		[]engine.Vertex{vertex("input2", "constant"), vertex("input3", "constant"), vertex("plus", "operator+")},
		[]engine.Dependency{{From: "plus", To: "input2"}, {From: "plus", To: "input3"}},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"input2", "input3"}, g.DependenciesOf("plus"),
		"dependencies must keep edge-insertion order")
	assert.Empty(t, g.DependenciesOf("input2"))

	v, ok := g.Vertex("plus")
	require.True(t, ok)
	assert.Equal(t, "operator+", v.Type)

	_, ok = g.Vertex("missing")
	assert.False(t, ok)
}

func TestNewTaskGraphRejectsEmpty(t *testing.T) {
	_, err := engine.NewTaskGraph(nil, nil)
	require.ErrorIs(t, err, engine.ErrMalformedGraph)
}

func TestNewTaskGraphRejectsDuplicateIDs(t *testing.T) {
	_, err := engine.NewTaskGraph(
		[]engine.Vertex{vertex("a", "node"), vertex("a", "node")},
		nil,
	)
	require.ErrorIs(t, err, engine.ErrMalformedGraph)
	assert.Contains(t, err.Error(), "duplicate vertex id")
}

func TestNewTaskGraphRejectsDanglingEdge(t *testing.T) {
	_, err := engine.NewTaskGraph(
		[]engine.Vertex{vertex("a", "node")},
		[]engine.Dependency{{From: "a", To: "ghost"}},
	)
	require.ErrorIs(t, err, engine.ErrMalformedGraph)

	_, err = engine.NewTaskGraph(
		[]engine.Vertex{vertex("a", "node")},
		[]engine.Dependency{{From: "ghost", To: "a"}},
	)
	require.ErrorIs(t, err, engine.ErrMalformedGraph)
}

func TestNewTaskGraphRejectsSelfLoop(t *testing.T) {
	_, err := engine.NewTaskGraph(
		[]engine.Vertex{vertex("a", "node")},
		[]engine.Dependency{{From: "a", To: "a"}},
	)
	require.ErrorIs(t, err, engine.ErrMalformedGraph)
}

func TestNewTaskGraphRejectsCycle(t *testing.T) {
	_, err := engine.NewTaskGraph(
		[]engine.Vertex{vertex("node_0", "process"), vertex("node_1", "process")},
		[]engine.Dependency{
			{From: "node_0", To: "node_1"},
			{From: "node_1", To: "node_0"},
		},
	)
	require.ErrorIs(t, err, engine.ErrMalformedGraph)
	assert.Contains(t, err.Error(), "cycle")
}

func TestNewTaskGraphRejectsIndirectCycle(t *testing.T) {
	_, err := engine.NewTaskGraph(
		[]engine.Vertex{vertex("a", "n"), vertex("b", "n"), vertex("c", "n")},
		[]engine.Dependency{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
			{From: "c", To: "a"},
		},
	)
	require.ErrorIs(t, err, engine.ErrMalformedGraph)
}
