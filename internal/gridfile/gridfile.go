// Package gridfile reads and writes the plain-text grid format: two integers
// (rows, cols) followed by rows*cols cell codes in row-major order, separated
// by any whitespace. Codes are 0 free, 1 obstacle, 3 start and 4 goal.
package gridfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/model"
)

var (
	ErrMalformed = errors.New("malformed grid file")
	ErrTooLarge  = errors.New("grid exceeds the cell limit")
)

// MaxCells bounds the declared grid size so a bad header cannot force a huge
// allocation.
const MaxCells = 1 << 24

// Layout is a decoded but not yet validated grid.
type Layout struct {
	Rows  int
	Cols  int
	Cells []model.CellState
}

// Environment validates the layout and builds a GridEnvironment from it.
func (l Layout) Environment(rng *rand.Rand) (*core.GridEnvironment, error) {
	return core.NewGridEnvironment(l.Rows, l.Cols, l.Cells, rng)
}

// DecodeLayout parses the grid format without checking start and goal rules.
func DecodeLayout(r io.Reader) (Layout, error) {
	return DecodeLayoutLimit(r, MaxCells)
}

// DecodeLayoutLimit is DecodeLayout with a caller-chosen cell limit, checked
// against the header before any cell storage is allocated. A limit <= 0 or
// above MaxCells means MaxCells.
func DecodeLayoutLimit(r io.Reader, maxCells int) (Layout, error) {
	if maxCells <= 0 || maxCells > MaxCells {
		maxCells = MaxCells
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		l      Layout
		header []int
		line   int
	)
	for sc.Scan() {
		line++
		for _, tok := range strings.Fields(sc.Text()) {
			v, err := strconv.Atoi(tok)
			if err != nil {
				return Layout{}, fmt.Errorf("%w: line %d: %q is not an integer", ErrMalformed, line, tok)
			}
			if len(header) < 2 {
				header = append(header, v)
				if len(header) == 2 {
					if err := l.setDims(header[0], header[1], maxCells); err != nil {
						return Layout{}, fmt.Errorf("line %d: %w", line, err)
					}
				}
				continue
			}
			if len(l.Cells) == cap(l.Cells) {
				return Layout{}, fmt.Errorf("%w: line %d: more than %d cells", ErrMalformed, line, l.Rows*l.Cols)
			}
			c := model.CellState(v)
			if v < 0 || v > 255 || !c.Valid() {
				i := len(l.Cells)
				return Layout{}, fmt.Errorf("%w: line %d: cell (%d,%d) has unknown code %d", ErrMalformed, line, i/l.Cols, i%l.Cols, v)
			}
			l.Cells = append(l.Cells, c)
		}
	}
	if err := sc.Err(); err != nil {
		return Layout{}, fmt.Errorf("read grid: %w", err)
	}
	if len(header) < 2 {
		return Layout{}, fmt.Errorf("%w: missing rows/cols header", ErrMalformed)
	}
	if len(l.Cells) != l.Rows*l.Cols {
		return Layout{}, fmt.Errorf("%w: got %d cells, want %d", ErrMalformed, len(l.Cells), l.Rows*l.Cols)
	}
	return l, nil
}

func (l *Layout) setDims(rows, cols, maxCells int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrMalformed, rows, cols)
	}
	if rows > maxCells/cols {
		return fmt.Errorf("%w: %dx%d exceeds %d cells", ErrTooLarge, rows, cols, maxCells)
	}
	l.Rows, l.Cols = rows, cols
	l.Cells = make([]model.CellState, 0, rows*cols)
	return nil
}

// Decode parses r and validates the result as a GridEnvironment. Layout
// errors wrap ErrMalformed; start and goal violations wrap the core errors.
func Decode(r io.Reader, rng *rand.Rand) (*core.GridEnvironment, error) {
	l, err := DecodeLayout(r)
	if err != nil {
		return nil, err
	}
	return l.Environment(rng)
}

// DecodeString is Decode over a string.
func DecodeString(s string, rng *rand.Rand) (*core.GridEnvironment, error) {
	return Decode(strings.NewReader(s), rng)
}

// LoadFile opens path and decodes it.
func LoadFile(path string, rng *rand.Rand) (*core.GridEnvironment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	env, err := Decode(f, rng)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

// Encode writes env in the grid format, one row per line.
func Encode(w io.Writer, env *core.GridEnvironment) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", env.Rows(), env.Cols())
	cells := env.Cells()
	for r := 0; r < env.Rows(); r++ {
		row := cells[r*env.Cols() : (r+1)*env.Cols()]
		for c, cell := range row {
			if c > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.Itoa(int(cell)))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// EncodeString is Encode into a string.
func EncodeString(env *core.GridEnvironment) string {
	var sb strings.Builder
	_ = Encode(&sb, env)
	return sb.String()
}
