package game

import (
	"encoding/json"
	"fmt"
	"time"

	"gameroom-service/internal/service/settlement"
	appErr "gameroom-service/pkg/errors"
)

const (
	ActionDraw  = "draw"
	ActionClaim = "claim"
)

// Claim patterns.
const (
	PatternLine        = "line"
	PatternFourCorners = "four_corners"
	PatternFullCard    = "full_card"
)

const (
	callNumbers = 75
	cardSize    = 5
	freeCell    = 0
)

// Card is a 5x5 number card; column c holds numbers from c*15+1 to c*15+15
// and the center cell is free.
type Card struct {
	ID    int                     `json:"id"`
	Owner int64                   `json:"owner,string"`
	Cells [cardSize][cardSize]int `json:"cells"`
}

// NumberCall has the host draw numbers from a shuffled 1..75 sequence while
// the other seats hold cards. The first valid claim wins.
type NumberCall struct {
	maxSeats     int
	cardsPerSeat int
	pattern      string
	throttle     time.Duration

	host     int64
	sequence []int
	drawn    []int
	drawnSet map[int]bool
	cards    []Card
	advised  map[int]time.Time
}

type claimMove struct {
	Card int `json:"card"`
}

type NumberCallState struct {
	Host      int64  `json:"host,string"`
	Pattern   string `json:"pattern"`
	Drawn     []int  `json:"drawn"`
	Remaining int    `json:"remaining"`
	Cards     []Card `json:"cards"`
}

func newNumberCall(cfg Config) (*NumberCall, error) {
	if cfg.MaxPlayers == 0 {
		cfg.MaxPlayers = 10
	}
	if cfg.CardsPerSeat == 0 {
		cfg.CardsPerSeat = 1
	}
	if cfg.Pattern == "" {
		cfg.Pattern = PatternLine
	}
	if cfg.MaxPlayers < 2 || cfg.MaxPlayers > 50 {
		return nil, fmt.Errorf("%w: max players %d", appErr.ErrInvalidConfig, cfg.MaxPlayers)
	}
	if cfg.CardsPerSeat < 1 || cfg.CardsPerSeat > 4 {
		return nil, fmt.Errorf("%w: cards per seat %d", appErr.ErrInvalidConfig, cfg.CardsPerSeat)
	}
	switch cfg.Pattern {
	case PatternLine, PatternFourCorners, PatternFullCard:
	default:
		return nil, fmt.Errorf("%w: pattern %q", appErr.ErrInvalidConfig, cfg.Pattern)
	}
	return &NumberCall{
		maxSeats:     cfg.MaxPlayers,
		cardsPerSeat: cfg.CardsPerSeat,
		pattern:      cfg.Pattern,
		throttle:     cfg.AdvisoryThrottle,
	}, nil
}

func (n *NumberCall) Kind() Kind { return KindNumberCall }
func (n *NumberCall) MinSeats() int { return 2 }
func (n *NumberCall) MaxSeats() int { return n.maxSeats }
func (n *NumberCall) AutoStart() bool { return false }
func (n *NumberCall) SeatStake() bool { return true }
func (n *NumberCall) OpenSeating() bool { return false }
func (n *NumberCall) Pausable() bool { return true }
func (n *NumberCall) LeaveForfeits() bool { return true }
func (n *NumberCall) Pooled() bool { return true }

// Start shuffles a fresh sequence and deals cards to every seat but the
// host.
func (n *NumberCall) Start(env Env, seats []int64, host int64) {
	n.host = host
	n.sequence = make([]int, 0, callNumbers)
	for _, i := range env.Rand.Perm(callNumbers) {
		n.sequence = append(n.sequence, i+1)
	}
	n.drawn = nil
	n.drawnSet = make(map[int]bool, callNumbers)
	n.advised = make(map[int]time.Time)
	n.cards = nil
	for _, uid := range seats {
		if uid == host {
			continue
		}
		for i := 0; i < n.cardsPerSeat; i++ {
			n.cards = append(n.cards, dealCard(env, len(n.cards)+1, uid))
		}
	}
}

func dealCard(env Env, id int, owner int64) Card {
	card := Card{ID: id, Owner: owner}
	for c := 0; c < cardSize; c++ {
		picks := env.Rand.Perm(15)
		for r := 0; r < cardSize; r++ {
			card.Cells[r][c] = c*15 + picks[r] + 1
		}
	}
	card.Cells[cardSize/2][cardSize/2] = freeCell
	return card
}

func (n *NumberCall) Turn() int64 {
	return n.host
}

func (n *NumberCall) Prepare(env Env, userID int64, action string, data json.RawMessage) (*Plan, error) {
	switch action {
	case ActionDraw:
		if userID != n.host {
			return nil, appErr.ErrNotHost
		}
		return &Plan{commit: func() Effect { return n.drawNext(env) }}, nil
	case ActionClaim:
		var m claimMove
		if err := decode(data, &m); err != nil {
			return nil, err
		}
		card := n.card(m.Card)
		if card == nil || card.Owner != userID || !n.complete(card) {
			return nil, appErr.ErrInvalidClaim
		}
		return &Plan{commit: func() Effect {
			return Effect{
				Outcome: outcome(settlement.Win(userID)),
				Changed: true,
				Note:    fmt.Sprintf("%d claimed card %d with %s", userID, card.ID, n.pattern),
			}
		}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", appErr.ErrInvalidMove, action)
	}
}

// drawNext draws one number. With the sequence exhausted and no claim the
// round is a draw.
func (n *NumberCall) drawNext(env Env) Effect {
	if len(n.sequence) == 0 {
		return Effect{Outcome: outcome(settlement.Draw()), Changed: true, Note: "sequence exhausted"}
	}
	num := n.sequence[0]
	n.sequence = n.sequence[1:]
	n.drawn = append(n.drawn, num)
	n.drawnSet[num] = true
	return Effect{
		Changed:    true,
		Note:       fmt.Sprintf("drew %d", num),
		Advisories: n.advisories(env.Now),
	}
}

// advisories lists claimable cards, each at most once per throttle window.
func (n *NumberCall) advisories(now time.Time) []Advisory {
	var out []Advisory
	for i := range n.cards {
		card := &n.cards[i]
		if !n.complete(card) {
			continue
		}
		if last, ok := n.advised[card.ID]; ok && now.Sub(last) < n.throttle {
			continue
		}
		n.advised[card.ID] = now
		out = append(out, Advisory{CardID: card.ID, Owner: card.Owner, Pattern: n.pattern})
	}
	return out
}

func (n *NumberCall) card(id int) *Card {
	for i := range n.cards {
		if n.cards[i].ID == id {
			return &n.cards[i]
		}
	}
	return nil
}

func (n *NumberCall) marked(v int) bool {
	return v == freeCell || n.drawnSet[v]
}

func (n *NumberCall) complete(card *Card) bool {
	c := card.Cells
	switch n.pattern {
	case PatternFourCorners:
		last := cardSize - 1
		return n.marked(c[0][0]) && n.marked(c[0][last]) && n.marked(c[last][0]) && n.marked(c[last][last])
	case PatternFullCard:
		for r := 0; r < cardSize; r++ {
			for col := 0; col < cardSize; col++ {
				if !n.marked(c[r][col]) {
					return false
				}
			}
		}
		return true
	default:
		return n.hasLine(card)
	}
}

func (n *NumberCall) hasLine(card *Card) bool {
	c := card.Cells
	diag, anti := true, true
	for i := 0; i < cardSize; i++ {
		row, col := true, true
		for j := 0; j < cardSize; j++ {
			row = row && n.marked(c[i][j])
			col = col && n.marked(c[j][i])
		}
		if row || col {
			return true
		}
		diag = diag && n.marked(c[i][i])
		anti = anti && n.marked(c[i][cardSize-1-i])
	}
	return diag || anti
}

func (n *NumberCall) NextDeadline(now time.Time, turnTimeout time.Duration) time.Time {
	return now.Add(turnTimeout)
}

// OnDeadline draws on behalf of an idle host.
func (n *NumberCall) OnDeadline(env Env) Effect {
	eff := n.drawNext(env)
	if eff.Outcome == nil {
		eff.Note = "auto " + eff.Note
	}
	return eff
}

func (n *NumberCall) Tick(_ Env) Effect { return Effect{} }
func (n *NumberCall) OnLeave(_ Env, _ int64) {}

// Snapshot shows viewer only their own cards.
func (n *NumberCall) Snapshot(viewer int64) interface{} {
	state := NumberCallState{
		Host:      n.host,
		Pattern:   n.pattern,
		Drawn:     append([]int{}, n.drawn...),
		Remaining: len(n.sequence),
		Cards:     []Card{},
	}
	for _, card := range n.cards {
		if card.Owner == viewer {
			state.Cards = append(state.Cards, card)
		}
	}
	return state
}
