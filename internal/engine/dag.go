package engine

import (
	"github.com/shaiso/Relay/internal/domain"
)

// Graph — проверенный DAG workflow.
//
// Строится один раз из нормализованных узлов и рёбер и дальше
// используется только на чтение.
type Graph struct {
	// nodes — узлы по ID.
	nodes map[string]*domain.Node

	// order — ID узлов в порядке объявления.
	order []string

	// outgoing / incoming — рёбра из узла и в узел в порядке объявления.
	outgoing map[string][]domain.Edge
	incoming map[string][]domain.Edge

	// start — узлы без входящих рёбер.
	start []string

	// topo — топологический порядок (алгоритм Кана).
	topo []string
}

// BuildGraph валидирует узлы и рёбра и строит Graph.
func BuildGraph(nodes []domain.Node, edges []domain.Edge) (*Graph, error) {
	if err := Validate(nodes, edges); err != nil {
		return nil, err
	}

	g := &Graph{
		nodes:    make(map[string]*domain.Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		outgoing: make(map[string][]domain.Edge),
		incoming: make(map[string][]domain.Edge),
	}

	for i := range nodes {
		node := nodes[i]
		g.nodes[node.ID] = &node
		g.order = append(g.order, node.ID)
	}

	for _, e := range edges {
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	for _, id := range g.order {
		if len(g.incoming[id]) == 0 {
			g.start = append(g.start, id)
		}
	}

	topo, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.topo = topo

	return g, nil
}

// topologicalSort выполняет топологическую сортировку.
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = len(g.Predecessors(id))
	}

	queue := make([]string, len(g.start))
	copy(queue, g.start)

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, next := range g.Successors(id) {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

// Node возвращает узел по ID или nil.
func (g *Graph) Node(id string) *domain.Node {
	return g.nodes[id]
}

// Nodes возвращает узлы в порядке объявления.
func (g *Graph) Nodes() []*domain.Node {
	out := make([]*domain.Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// StartNodes возвращает узлы без входящих рёбер.
func (g *Graph) StartNodes() []*domain.Node {
	out := make([]*domain.Node, 0, len(g.start))
	for _, id := range g.start {
		out = append(out, g.nodes[id])
	}
	return out
}

// Outgoing возвращает рёбра, выходящие из узла.
func (g *Graph) Outgoing(id string) []domain.Edge {
	return g.outgoing[id]
}

// Incoming возвращает рёбра, входящие в узел.
func (g *Graph) Incoming(id string) []domain.Edge {
	return g.incoming[id]
}

// Predecessors возвращает ID предшественников узла без повторов.
func (g *Graph) Predecessors(id string) []string {
	return uniqueEndpoints(g.incoming[id], func(e domain.Edge) string { return e.Source })
}

// Successors возвращает ID потомков узла без повторов.
func (g *Graph) Successors(id string) []string {
	return uniqueEndpoints(g.outgoing[id], func(e domain.Edge) string { return e.Target })
}

// TopologicalOrder возвращает узлы в топологическом порядке.
func (g *Graph) TopologicalOrder() []string {
	out := make([]string, len(g.topo))
	copy(out, g.topo)
	return out
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.nodes)
}

func uniqueEndpoints(edges []domain.Edge, pick func(domain.Edge) string) []string {
	seen := make(map[string]bool, len(edges))
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		id := pick(e)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
