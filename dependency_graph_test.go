// dependency_graph_test.go: topological ordering and cycle detection tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyGraph_LoadOrder(t *testing.T) {
	app := newDefinition(t, "app", 1)
	ui := newDefinition(t, "ui", 1)
	net := newDefinition(t, "net", 1)
	core := newDefinition(t, "core", 1)

	graph := NewDependencyGraph()
	graph.AddEdge(app, ui)
	graph.AddEdge(app, net)
	graph.AddEdge(ui, core)
	graph.AddEdge(net, core)
	graph.AddEdge(net, core) // duplicate edges are ignored

	assert.Equal(t, 4, graph.Len())
	assert.True(t, graph.Contains(core.Key()))
	assert.Equal(t, []ModuleKey{core.Key()}, graph.GetDependencies(net.Key()))
	assert.Equal(t, []ModuleKey{ui.Key(), net.Key()}, graph.GetDependents(core.Key()))

	order, err := graph.CalculateLoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"core@1", "ui@1", "net@1", "app@1"}, keysOf(order))
}

func TestDependencyGraph_IndependentNodesKeepInsertionOrder(t *testing.T) {
	graph := NewDependencyGraph()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		graph.AddNode(newDefinition(t, id, 1))
	}
	order, err := graph.CalculateLoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta@1", "alpha@1", "mid@1"}, keysOf(order))
}

func TestDependencyGraph_Cycle(t *testing.T) {
	a := newDefinition(t, "a", 1)
	b := newDefinition(t, "b", 1)
	c := newDefinition(t, "c", 1)
	leaf := newDefinition(t, "leaf", 1)

	graph := NewDependencyGraph()
	graph.AddEdge(a, b)
	graph.AddEdge(b, c)
	graph.AddEdge(c, a)
	graph.AddEdge(a, leaf)

	_, err := graph.CalculateLoadOrder()
	require.Error(t, err)
	assert.Equal(t, ErrCodeCyclicDependency, ErrorCode(err))
	assert.Contains(t, err.Error(), "->")
}
