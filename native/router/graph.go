package router

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/native/amm"
)

// Graph is the undirected token graph induced by the registered pairs.
type Graph struct {
	adj map[common.Address][]common.Address
}

// BuildGraph connects the two tokens of every pair. Neighbour lists are sorted
// so path enumeration is deterministic.
func BuildGraph(pairs []*amm.Pair) *Graph {
	g := &Graph{adj: make(map[common.Address][]common.Address)}
	for _, pair := range pairs {
		if pair == nil {
			continue
		}
		g.connect(pair.Token0, pair.Token1)
		g.connect(pair.Token1, pair.Token0)
	}
	for token := range g.adj {
		neighbours := g.adj[token]
		sort.Slice(neighbours, func(i, j int) bool {
			return bytes.Compare(neighbours[i].Bytes(), neighbours[j].Bytes()) < 0
		})
	}
	return g
}

func (g *Graph) connect(from, to common.Address) {
	for _, existing := range g.adj[from] {
		if existing == to {
			return
		}
	}
	g.adj[from] = append(g.adj[from], to)
}

// Has reports whether token appears in any pair.
func (g *Graph) Has(token common.Address) bool {
	_, ok := g.adj[token]
	return ok
}

// Neighbours returns the tokens sharing a pair with token.
func (g *Graph) Neighbours(token common.Address) []common.Address {
	return append([]common.Address(nil), g.adj[token]...)
}

// FindAllPaths returns every simple path from one token to another. The result
// is empty when either token is unknown or the two are not connected.
func (g *Graph) FindAllPaths(from, to common.Address) [][]common.Address {
	paths := make([][]common.Address, 0)
	if g == nil || from == to || !g.Has(from) || !g.Has(to) {
		return paths
	}
	visited := map[common.Address]bool{from: true}
	current := []common.Address{from}
	var walk func(node common.Address)
	walk = func(node common.Address) {
		for _, next := range g.adj[node] {
			if visited[next] {
				continue
			}
			current = append(current, next)
			if next == to {
				paths = append(paths, append([]common.Address(nil), current...))
			} else {
				visited[next] = true
				walk(next)
				visited[next] = false
			}
			current = current[:len(current)-1]
		}
	}
	walk(from)
	return paths
}
