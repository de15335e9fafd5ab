package model

import "fmt"

// CellState classifies a grid cell. The numeric values match the grid file
// encoding.
type CellState uint8

const (
	CellFree     CellState = 0
	CellObstacle CellState = 1
	CellStart    CellState = 3
	CellGoal     CellState = 4
)

// Traversable reports whether an agent may occupy the cell.
func (c CellState) Traversable() bool {
	return c == CellFree || c == CellStart || c == CellGoal
}

// Valid reports whether c is one of the known cell states.
func (c CellState) Valid() bool {
	switch c {
	case CellFree, CellObstacle, CellStart, CellGoal:
		return true
	default:
		return false
	}
}

func (c CellState) String() string {
	switch c {
	case CellFree:
		return "FREE"
	case CellObstacle:
		return "OBSTACLE"
	case CellStart:
		return "START"
	case CellGoal:
		return "GOAL"
	default:
		return fmt.Sprintf("CellState(%d)", uint8(c))
	}
}
