// Package display renders spin results for terminal output.
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lox/cascadeslots/internal/engine"
)

// Styles holds the lipgloss styles used to draw boards.
type Styles struct {
	Board   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Removed lipgloss.Style
	Win     lipgloss.Style
	Info    lipgloss.Style
	Symbols map[engine.Symbol]lipgloss.Style
}

// NewStyles returns the default palette.
func NewStyles() *Styles {
	cell := lipgloss.NewStyle().Padding(0, 1)
	color := func(c string) lipgloss.Style {
		return cell.Foreground(lipgloss.Color(c)).Bold(true)
	}
	return &Styles{
		Board: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#626262")),
		Header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true),
		Cell: cell,
		Removed: cell.
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFD700")),
		Win: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#96CEB4")).
			Bold(true),
		Info: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")),
		Symbols: map[engine.Symbol]lipgloss.Style{
			engine.Blue:      color("#4D96FF"),
			engine.Green:     color("#6BCB77"),
			engine.Purple:    color("#9B5DE5"),
			engine.Red:       color("#FF6B6B"),
			engine.Cup:       color("#F4A261"),
			engine.Ring:      color("#E9C46A"),
			engine.Hourglass: color("#2EC4B6"),
			engine.Crown:     color("#FFD700"),
			engine.Scatter:   color("#FF00FF"),
			engine.Empty:     cell.Foreground(lipgloss.Color("#444444")),
		},
	}
}

// Grid draws g row by row. Cells listed in marked are highlighted.
func (s *Styles) Grid(g engine.Grid, marked []engine.Position) string {
	hot := make(map[engine.Position]bool, len(marked))
	for _, p := range marked {
		hot[p] = true
	}

	rows := make([]string, 0, engine.Rows)
	for r := 0; r < engine.Rows; r++ {
		cells := make([]string, 0, engine.Cols)
		for c := 0; c < engine.Cols; c++ {
			p := engine.Position{Col: c, Row: r}
			sym := g.At(p)
			style, ok := s.Symbols[sym]
			if !ok {
				style = s.Cell
			}
			if hot[p] {
				style = s.Removed
			}
			cells = append(cells, style.Render(sym.String()))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return s.Board.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// Spin renders the initial board, every cascade step and a summary line.
func (s *Styles) Spin(res *engine.SpinResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", s.Header.Render(fmt.Sprintf("Spin %s", res.SpinID)),
		s.Info.Render(fmt.Sprintf("seed=%d mode=%s bet=%s", res.Seed, res.Mode, res.BetAmount)))
	b.WriteString(s.Grid(res.InitialGrid, nil))
	b.WriteString("\n")

	for _, step := range res.CascadeSteps {
		fmt.Fprintf(&b, "%s %s\n", s.Header.Render(fmt.Sprintf("Step %d", step.Index+1)), s.stepSummary(step))
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center,
			s.Grid(step.GridBefore, step.RemovedPositions),
			s.Info.Render("  →  "),
			s.Grid(step.GridAfterDrop, newPositions(step.NewSymbols)),
		))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%s %s\n", s.Win.Render(fmt.Sprintf("Total win %s", res.TotalWin)), s.spinSummary(res))
	return b.String()
}

func (s *Styles) stepSummary(step engine.CascadeStep) string {
	parts := make([]string, 0, len(step.Clusters)+1)
	for _, c := range step.Clusters {
		parts = append(parts, fmt.Sprintf("%d×%s=%s", c.Size, c.Symbol, c.Payout))
	}
	if step.StepMultiplier > 1 {
		parts = append(parts, fmt.Sprintf("x%d", step.StepMultiplier))
	}
	return s.Win.Render(fmt.Sprintf("win %s", step.StepWin)) + " " + s.Info.Render(strings.Join(parts, " "))
}

func (s *Styles) spinSummary(res *engine.SpinResult) string {
	parts := []string{fmt.Sprintf("steps=%d", len(res.CascadeSteps))}
	if res.TotalMultiplier > 1 {
		parts = append(parts, fmt.Sprintf("multiplier=%d", res.TotalMultiplier))
	}
	if res.FreeSpinsTriggered {
		parts = append(parts, fmt.Sprintf("free_spins_awarded=%d", res.FreeSpinsAwarded))
	}
	if res.FreeSpinsActive {
		parts = append(parts, fmt.Sprintf("free_spins_remaining=%d", res.FreeSpinsRemaining))
	}
	if res.Metadata.Capped {
		parts = append(parts, "capped")
	}
	parts = append(parts, "checksum="+res.Checksum)
	return s.Info.Render(strings.Join(parts, " "))
}

func newPositions(syms []engine.NewSymbol) []engine.Position {
	out := make([]engine.Position, len(syms))
	for i, n := range syms {
		out[i] = n.Position
	}
	return out
}
