package core

import "github.com/signalsfoundry/grid-replanner/model"

// NodeID indexes a SearchNode inside the arena of a single search.
type NodeID int32

// NoNode marks the absence of a parent (the search root).
const NoNode NodeID = -1

// SearchNode records how a position was reached. Only G and Parent change
// after creation, when a cheaper route is found before the node is closed.
type SearchNode struct {
	Position model.Position
	G        float64
	H        float64
	Parent   NodeID
}

// F is the priority used by the frontier.
func (n SearchNode) F() float64 { return n.G + n.H }

// nodeArena stores every node generated by one search. Parents are arena
// indices, so the lineage tree holds no owning pointers.
type nodeArena struct {
	nodes  []SearchNode
	byCell []NodeID
}

func (a *nodeArena) reset(cells int) {
	a.nodes = a.nodes[:0]
	if cap(a.byCell) < cells {
		a.byCell = make([]NodeID, cells)
	}
	a.byCell = a.byCell[:cells]
	for i := range a.byCell {
		a.byCell[i] = NoNode
	}
}

func (a *nodeArena) add(cell int, n SearchNode) NodeID {
	id := NodeID(len(a.nodes))
	a.nodes = append(a.nodes, n)
	a.byCell[cell] = id
	return id
}

func (a *nodeArena) lookup(cell int) NodeID { return a.byCell[cell] }

func (a *nodeArena) node(id NodeID) *SearchNode { return &a.nodes[id] }

// lineage walks parent links from id back to the root and returns the
// positions in root-first order.
func (a *nodeArena) lineage(id NodeID) []model.Position {
	var path []model.Position
	for cur := id; cur != NoNode; cur = a.nodes[cur].Parent {
		path = append(path, a.nodes[cur].Position)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
