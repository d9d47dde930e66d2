package engine

import (
	"fmt"
	"strings"

	"github.com/lox/cascadeslots/internal/checksum"
	"github.com/lox/cascadeslots/internal/randutil"
)

const (
	Cols  = 6
	Rows  = 5
	Cells = Cols * Rows
)

// Position addresses a cell. Row 0 is the top of the board.
type Position struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// PositionAt converts a column-major cell index into a Position.
func PositionAt(index int) Position {
	return Position{Col: index / Rows, Row: index % Rows}
}

// Index returns the column-major cell index of p.
func (p Position) Index() int { return p.Col*Rows + p.Row }

// InBounds reports whether p lies on the board.
func (p Position) InBounds() bool {
	return p.Col >= 0 && p.Col < Cols && p.Row >= 0 && p.Row < Rows
}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.Col, p.Row) }

// Grid is the 6x5 board indexed [col][row]. It is a value type; copying a
// Grid copies the board.
type Grid [Cols][Rows]Symbol

// At returns the symbol at p.
func (g Grid) At(p Position) Symbol { return g[p.Col][p.Row] }

// Set places s at p.
func (g *Grid) Set(p Position, s Symbol) { g[p.Col][p.Row] = s }

// Count returns how many cells hold s.
func (g Grid) Count(s Symbol) int {
	n := 0
	for c := 0; c < Cols; c++ {
		for r := 0; r < Rows; r++ {
			if g[c][r] == s {
				n++
			}
		}
	}
	return n
}

// Full reports whether the grid has no empty cells.
func (g Grid) Full() bool { return g.Count(Empty) == 0 }

// SatisfiesGravity reports whether every column has its empties only above
// filled cells.
func (g Grid) SatisfiesGravity() bool {
	for c := 0; c < Cols; c++ {
		seenFilled := false
		for r := 0; r < Rows; r++ {
			if g[c][r] != Empty {
				seenFilled = true
			} else if seenFilled {
				return false
			}
		}
	}
	return true
}

// Canonical renders the grid in the stable form used for hashing:
// column-major codes, cells separated by "," and columns by "|".
func (g Grid) Canonical() string {
	var b strings.Builder
	b.Grow(Cells * 3)
	for c := 0; c < Cols; c++ {
		if c > 0 {
			b.WriteByte('|')
		}
		for r := 0; r < Rows; r++ {
			if r > 0 {
				b.WriteByte(',')
			}
			b.WriteString(g[c][r].String())
		}
	}
	return b.String()
}

// Hash returns the salted hash of the canonical grid string.
func (g Grid) Hash(salt string) string {
	return checksum.Salted([]byte(g.Canonical()), salt)
}

// ParseGrid is the inverse of Canonical.
func ParseGrid(s string) (Grid, error) {
	var g Grid
	cols := strings.Split(s, "|")
	if len(cols) != Cols {
		return g, fmt.Errorf("grid has %d columns, want %d", len(cols), Cols)
	}
	for c, col := range cols {
		cells := strings.Split(col, ",")
		if len(cells) != Rows {
			return g, fmt.Errorf("column %d has %d rows, want %d", c, len(cells), Rows)
		}
		for r, code := range cells {
			sym, err := ParseSymbol(code)
			if err != nil {
				return g, fmt.Errorf("cell (%d,%d): %w", c, r, err)
			}
			g[c][r] = sym
		}
	}
	return g, nil
}

// GenerateGrid draws a full board from dist. Cells are drawn in column-major
// order (column 0 top to bottom, then column 1, ...) with exactly one draw per
// cell so the draw sequence is reproducible and auditable.
func GenerateGrid(stream *randutil.Stream, dist *Distribution, mode Mode) (Grid, error) {
	var g Grid
	for c := 0; c < Cols; c++ {
		for r := 0; r < Rows; r++ {
			sym, err := dist.Draw(stream, mode)
			if err != nil {
				return Grid{}, err
			}
			g[c][r] = sym
		}
	}
	return g, nil
}
