// Package graph answers structural questions about a set of arrows: cycles,
// maximal chains, components and reachability. An Index is immutable and is
// built per operation from whatever arrows the caller loaded.
package graph

import (
	"cmp"
	"slices"
)

// Arrow points from Source to Target.
type Arrow[N cmp.Ordered] struct {
	Source N `json:"source"`
	Target N `json:"target"`
}

// Direction selects which end of an arrow a traversal moves to.
type Direction int

const (
	ToTargets Direction = iota
	ToSources
)

func (d Direction) Reverse() Direction {
	if d == ToTargets {
		return ToSources
	}
	return ToTargets
}

func (d Direction) String() string {
	if d == ToSources {
		return "sources"
	}
	return "targets"
}

type Index[N cmp.Ordered] struct {
	nodes []N
	out   map[N][]N
	in    map[N][]N
}

// New indexes arrows plus any extra isolated nodes. Duplicate arrows collapse.
func New[N cmp.Ordered](arrows []Arrow[N], nodes ...N) *Index[N] {
	idx := &Index[N]{out: map[N][]N{}, in: map[N][]N{}}
	seen := map[N]bool{}
	add := func(n N) {
		if !seen[n] {
			seen[n] = true
			idx.nodes = append(idx.nodes, n)
		}
	}
	for _, n := range nodes {
		add(n)
	}
	dup := map[Arrow[N]]bool{}
	for _, a := range arrows {
		add(a.Source)
		add(a.Target)
		if dup[a] {
			continue
		}
		dup[a] = true
		idx.out[a.Source] = append(idx.out[a.Source], a.Target)
		idx.in[a.Target] = append(idx.in[a.Target], a.Source)
	}
	slices.Sort(idx.nodes)
	for _, m := range []map[N][]N{idx.out, idx.in} {
		for k := range m {
			slices.Sort(m[k])
		}
	}
	return idx
}

func (g *Index[N]) Nodes() []N { return slices.Clone(g.nodes) }

func (g *Index[N]) Contains(n N) bool {
	_, ok := slices.BinarySearch(g.nodes, n)
	return ok
}

// IsLeaf reports whether n has no outgoing arrows.
func (g *Index[N]) IsLeaf(n N) bool { return len(g.out[n]) == 0 }

// IsRoot reports whether n has no incoming arrows.
func (g *Index[N]) IsRoot(n N) bool { return len(g.in[n]) == 0 }

func (g *Index[N]) Targets(n N) []N { return slices.Clone(g.out[n]) }

func (g *Index[N]) Sources(n N) []N { return slices.Clone(g.in[n]) }

func (g *Index[N]) neighbours(n N, dir Direction) []N {
	if dir == ToSources {
		return g.in[n]
	}
	return g.out[n]
}

// HasCycle reports whether any directed cycle exists, self-loops included.
func (g *Index[N]) HasCycle() bool {
	return g.Cycle() != nil
}

// Cycle returns one witness cycle in arrow order with the first node repeated
// at the end, or nil when the graph is acyclic.
func (g *Index[N]) Cycle() []N {
	const (
		white = iota
		gray
		black
	)
	color := make(map[N]int, len(g.nodes))
	parent := make(map[N]N, len(g.nodes))
	var cycle []N

	var dfs func(u N) bool
	dfs = func(u N) bool {
		color[u] = gray
		for _, v := range g.out[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// back arrow u -> v closes v ... u -> v
				cycle = []N{u}
				for cur := u; cur != v; {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				slices.Reverse(cycle)
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for _, n := range g.nodes {
		if color[n] == white && dfs(n) {
			return cycle
		}
	}
	return nil
}

// Validate returns a *CycleError when the graph has a cycle.
func (g *Index[N]) Validate() error {
	if c := g.Cycle(); c != nil {
		return &CycleError[N]{Path: c}
	}
	return nil
}

// Paths lists every maximal directed chain: from a node without sources to a
// node without targets. Isolated nodes form single-node paths. The result is
// only complete for acyclic graphs; nodes that sit on a cycle unreachable from
// any root are not listed. The number of paths can grow exponentially with
// stacked diamonds, so checks over all paths should use HeaviestPath.
func (g *Index[N]) Paths() [][]N {
	var paths [][]N
	onPath := map[N]bool{}
	var walk func(cur []N)
	walk = func(cur []N) {
		last := cur[len(cur)-1]
		next := g.out[last]
		extended := false
		for _, n := range next {
			if onPath[n] {
				continue
			}
			extended = true
			onPath[n] = true
			walk(append(cur, n))
			onPath[n] = false
		}
		if !extended {
			paths = append(paths, slices.Clone(cur))
		}
	}
	for _, n := range g.nodes {
		if !g.IsRoot(n) {
			continue
		}
		onPath[n] = true
		walk([]N{n})
		onPath[n] = false
	}
	return paths
}

// TopoOrder returns the nodes so that every arrow points forward, or nil
// when the graph has a cycle.
func (g *Index[N]) TopoOrder() []N {
	indeg := make(map[N]int, len(g.nodes))
	order := make([]N, 0, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n] = len(g.in[n])
		if indeg[n] == 0 {
			order = append(order, n)
		}
	}
	for i := 0; i < len(order); i++ {
		for _, m := range g.out[order[i]] {
			indeg[m]--
			if indeg[m] == 0 {
				order = append(order, m)
			}
		}
	}
	if len(order) != len(g.nodes) {
		return nil
	}
	return order
}

// HeaviestPath returns a directed path whose summed weight is the largest of
// any path, in arrow order. It runs in time linear in nodes plus arrows and
// returns nil for an empty or cyclic graph.
func (g *Index[N]) HeaviestPath(weight func(N) int) []N {
	order := g.TopoOrder()
	if len(order) == 0 {
		return nil
	}
	best := make(map[N]int, len(order))
	prev := make(map[N]N, len(order))
	var end N
	top := -1
	for _, n := range order {
		acc := 0
		for i, p := range g.in[n] {
			if i == 0 || best[p] > acc {
				acc = best[p]
				prev[n] = p
			}
		}
		best[n] = acc + weight(n)
		if best[n] > top {
			top = best[n]
			end = n
		}
	}
	path := []N{end}
	for cur := end; ; {
		p, ok := prev[cur]
		if !ok {
			break
		}
		path = append(path, p)
		cur = p
	}
	slices.Reverse(path)
	return path
}

// Components lists the weakly connected components, each sorted, ordered by
// their smallest node.
func (g *Index[N]) Components() [][]N {
	seen := map[N]bool{}
	var comps [][]N
	for _, start := range g.nodes {
		if seen[start] {
			continue
		}
		var comp []N
		queue := []N{start}
		seen[start] = true
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			comp = append(comp, n)
			for _, m := range append(slices.Clone(g.out[n]), g.in[n]...) {
				if !seen[m] {
					seen[m] = true
					queue = append(queue, m)
				}
			}
		}
		slices.Sort(comp)
		comps = append(comps, comp)
	}
	return comps
}

// Reachable returns seed and everything reachable from it in dir, sorted.
// A seed unknown to the index yields just the seed.
func (g *Index[N]) Reachable(seed N, dir Direction) []N {
	visited := map[N]bool{seed: true}
	queue := []N{seed}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range g.neighbours(n, dir) {
			if !visited[m] {
				visited[m] = true
				queue = append(queue, m)
			}
		}
	}
	out := make([]N, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Closure is the union of Reachable over all seeds.
func (g *Index[N]) Closure(seeds []N, dir Direction) []N {
	set := map[N]bool{}
	for _, s := range seeds {
		for _, n := range g.Reachable(s, dir) {
			set[n] = true
		}
	}
	out := make([]N, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
