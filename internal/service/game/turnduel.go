package game

import (
	"encoding/json"
	"fmt"
	"time"

	"gameroom-service/internal/service/settlement"
	appErr "gameroom-service/pkg/errors"
)

const (
	ActionPlace = "place"
)

// TurnDuel is a two-seat alternating grid game: N in a row wins, a full
// board draws. With Gravity a move names only the column.
type TurnDuel struct {
	rows, cols, winLen int
	gravity            bool

	grid   [][]int8
	seats  [2]int64
	turn   int
	moves  int
	starts int
}

type placeMove struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type TurnDuelState struct {
	Rows  int      `json:"rows"`
	Cols  int      `json:"cols"`
	Grid  [][]int8 `json:"grid"`
	Seats []int64  `json:"seats"`
	Turn  int64    `json:"turn,string"`
	Moves int      `json:"moves"`
}

func newTurnDuel(cfg Config) (*TurnDuel, error) {
	if cfg.Rows == 0 {
		cfg.Rows = 3
	}
	if cfg.Cols == 0 {
		cfg.Cols = 3
	}
	if cfg.WinLength == 0 {
		cfg.WinLength = 3
	}
	if cfg.Rows < 3 || cfg.Cols < 3 || cfg.Rows > 19 || cfg.Cols > 19 {
		return nil, fmt.Errorf("%w: board %dx%d", appErr.ErrInvalidConfig, cfg.Rows, cfg.Cols)
	}
	if cfg.WinLength < 3 || (cfg.WinLength > cfg.Rows && cfg.WinLength > cfg.Cols) {
		return nil, fmt.Errorf("%w: win length %d", appErr.ErrInvalidConfig, cfg.WinLength)
	}
	return &TurnDuel{rows: cfg.Rows, cols: cfg.Cols, winLen: cfg.WinLength, gravity: cfg.Gravity}, nil
}

func (d *TurnDuel) Kind() Kind { return KindTurnDuel }
func (d *TurnDuel) MinSeats() int { return 2 }
func (d *TurnDuel) MaxSeats() int { return 2 }
func (d *TurnDuel) AutoStart() bool { return true }
func (d *TurnDuel) SeatStake() bool { return true }
func (d *TurnDuel) OpenSeating() bool { return false }
func (d *TurnDuel) Pausable() bool { return true }
func (d *TurnDuel) LeaveForfeits() bool { return true }
func (d *TurnDuel) Pooled() bool { return false }

// Start alternates the opening seat between rounds of a rematch series.
func (d *TurnDuel) Start(_ Env, seats []int64, _ int64) {
	d.grid = make([][]int8, d.rows)
	for r := range d.grid {
		d.grid[r] = make([]int8, d.cols)
	}
	d.seats = [2]int64{seats[0], seats[1]}
	d.turn = d.starts % 2
	d.moves = 0
	d.starts++
}

func (d *TurnDuel) Turn() int64 {
	return d.seats[d.turn]
}

func (d *TurnDuel) Prepare(_ Env, userID int64, action string, data json.RawMessage) (*Plan, error) {
	if action != ActionPlace {
		return nil, fmt.Errorf("%w: unknown action %q", appErr.ErrInvalidMove, action)
	}
	if d.seats[d.turn] != userID {
		return nil, appErr.ErrNotYourTurn
	}
	var m placeMove
	if err := decode(data, &m); err != nil {
		return nil, err
	}
	row, col := m.Row, m.Col
	if col < 0 || col >= d.cols {
		return nil, fmt.Errorf("%w: column %d out of range", appErr.ErrInvalidMove, col)
	}
	if d.gravity {
		row = d.dropRow(col)
		if row < 0 {
			return nil, fmt.Errorf("%w: column %d is full", appErr.ErrInvalidMove, col)
		}
	} else {
		if row < 0 || row >= d.rows {
			return nil, fmt.Errorf("%w: row %d out of range", appErr.ErrInvalidMove, row)
		}
		if d.grid[row][col] != 0 {
			return nil, fmt.Errorf("%w: cell occupied", appErr.ErrInvalidMove)
		}
	}
	return &Plan{commit: func() Effect {
		mark := int8(d.turn + 1)
		d.grid[row][col] = mark
		d.moves++
		note := fmt.Sprintf("%d placed at %d,%d", userID, row, col)
		if hasLine(d.grid, row, col, d.winLen) {
			return Effect{Outcome: outcome(settlement.Win(userID)), Changed: true, Note: note}
		}
		if d.moves == d.rows*d.cols {
			return Effect{Outcome: outcome(settlement.Draw()), Changed: true, Note: note}
		}
		d.turn = 1 - d.turn
		return Effect{Changed: true, Note: note}
	}}, nil
}

func (d *TurnDuel) NextDeadline(now time.Time, turnTimeout time.Duration) time.Time {
	return now.Add(turnTimeout)
}

// OnDeadline forfeits the seat that failed to move.
func (d *TurnDuel) OnDeadline(_ Env) Effect {
	return Effect{Outcome: outcome(settlement.Forfeit(d.seats[d.turn])), Changed: true, Note: "turn timed out"}
}

func (d *TurnDuel) Tick(_ Env) Effect { return Effect{} }
func (d *TurnDuel) OnLeave(_ Env, _ int64) {}

func (d *TurnDuel) Snapshot(_ int64) interface{} {
	grid := make([][]int8, len(d.grid))
	for r := range d.grid {
		grid[r] = append([]int8(nil), d.grid[r]...)
	}
	return TurnDuelState{
		Rows:  d.rows,
		Cols:  d.cols,
		Grid:  grid,
		Seats: []int64{d.seats[0], d.seats[1]},
		Turn:  d.Turn(),
		Moves: d.moves,
	}
}

func (d *TurnDuel) dropRow(col int) int {
	for r := d.rows - 1; r >= 0; r-- {
		if d.grid[r][col] == 0 {
			return r
		}
	}
	return -1
}

// hasLine reports whether the mark at (row, col) completes winLen in a row
// in any direction.
func hasLine(grid [][]int8, row, col, winLen int) bool {
	rows, cols := len(grid), len(grid[0])
	mark := grid[row][col]
	if mark == 0 {
		return false
	}
	dirs := [][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}
	for _, dir := range dirs {
		count := 1
		for r, c := row+dir[0], col+dir[1]; r >= 0 && r < rows && c >= 0 && c < cols && grid[r][c] == mark; r, c = r+dir[0], c+dir[1] {
			count++
		}
		for r, c := row-dir[0], col-dir[1]; r >= 0 && r < rows && c >= 0 && c < cols && grid[r][c] == mark; r, c = r-dir[0], c-dir[1] {
			count++
		}
		if count >= winLen {
			return true
		}
	}
	return false
}
