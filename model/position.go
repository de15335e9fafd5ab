package model

import "fmt"

// Position addresses a grid cell by row and column. Positions compare by value.
type Position struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

// Add returns the position offset by the given direction.
func (p Position) Add(d Direction) Position {
	return Position{Row: p.Row + d.DRow, Col: p.Col + d.DCol}
}

// String renders the position as "(row,col)".
func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

// Direction is a unit step on the grid.
type Direction struct {
	DRow int
	DCol int
}

// Diagonal reports whether the step changes both row and column.
func (d Direction) Diagonal() bool {
	return d.DRow != 0 && d.DCol != 0
}

// Directions enumerates the eight moves in the fixed order used for neighbour
// expansion: the four orthogonal moves (up, down, left, right) followed by the
// four diagonals (up-left, up-right, down-left, down-right).
var Directions = [8]Direction{
	{DRow: -1, DCol: 0},
	{DRow: 1, DCol: 0},
	{DRow: 0, DCol: -1},
	{DRow: 0, DCol: 1},
	{DRow: -1, DCol: -1},
	{DRow: -1, DCol: 1},
	{DRow: 1, DCol: -1},
	{DRow: 1, DCol: 1},
}

// Step returns the direction that moves from a to b, and whether a and b are
// adjacent under the 8-direction rule.
func Step(a, b Position) (Direction, bool) {
	d := Direction{DRow: b.Row - a.Row, DCol: b.Col - a.Col}
	if d.DRow < -1 || d.DRow > 1 || d.DCol < -1 || d.DCol > 1 {
		return Direction{}, false
	}
	if d.DRow == 0 && d.DCol == 0 {
		return Direction{}, false
	}
	return d, true
}
