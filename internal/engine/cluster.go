package engine

import "github.com/shopspring/decimal"

// Cluster is one 4-connected group of a single paying symbol.
type Cluster struct {
	Symbol    Symbol          `json:"symbol"`
	Positions []Position      `json:"positions"`
	Size      int             `json:"size"`
	Payout    decimal.Decimal `json:"payout"`
}

var neighbours = [4]Position{{Col: 0, Row: -1}, {Col: 1, Row: 0}, {Col: 0, Row: 1}, {Col: -1, Row: 0}}

// FindClusters flood-fills the grid and returns every component of at least
// minSize cells. Clusters are ordered by their first cell in column-major
// order and their positions are sorted column-major. Scatters and empty cells
// never cluster.
func FindClusters(g Grid, minSize int) []Cluster {
	var visited [Cols][Rows]bool
	var clusters []Cluster

	for start := 0; start < Cells; start++ {
		p := PositionAt(start)
		if visited[p.Col][p.Row] {
			continue
		}
		sym := g.At(p)
		if !sym.IsPaying() {
			visited[p.Col][p.Row] = true
			continue
		}

		var member [Cells]bool
		size := 0
		queue := []Position{p}
		visited[p.Col][p.Row] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			member[cur.Index()] = true
			size++
			for _, d := range neighbours {
				n := Position{Col: cur.Col + d.Col, Row: cur.Row + d.Row}
				if !n.InBounds() || visited[n.Col][n.Row] || g.At(n) != sym {
					continue
				}
				visited[n.Col][n.Row] = true
				queue = append(queue, n)
			}
		}

		if size < minSize {
			continue
		}
		positions := make([]Position, 0, size)
		for i, in := range member {
			if in {
				positions = append(positions, PositionAt(i))
			}
		}
		clusters = append(clusters, Cluster{Symbol: sym, Positions: positions, Size: size})
	}
	return clusters
}

// IsConnected reports whether positions form one 4-connected component.
func IsConnected(positions []Position) bool {
	if len(positions) == 0 {
		return false
	}
	var in, seen [Cells]bool
	for _, p := range positions {
		if !p.InBounds() {
			return false
		}
		in[p.Index()] = true
	}
	queue := []Position{positions[0]}
	seen[positions[0].Index()] = true
	reached := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		reached++
		for _, d := range neighbours {
			n := Position{Col: cur.Col + d.Col, Row: cur.Row + d.Row}
			if !n.InBounds() || !in[n.Index()] || seen[n.Index()] {
				continue
			}
			seen[n.Index()] = true
			queue = append(queue, n)
		}
	}
	distinct := 0
	for _, v := range in {
		if v {
			distinct++
		}
	}
	return reached == distinct && distinct == len(positions)
}
