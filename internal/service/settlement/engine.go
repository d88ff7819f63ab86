package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gameroom-service/internal/config"
	"gameroom-service/internal/metrics"
	"gameroom-service/internal/model"
	"gameroom-service/internal/service/ledger"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/logger"

	"go.uber.org/zap"
)

// Engine collects stakes into room pots and pays them out exactly once per
// (room, round).
type Engine struct {
	ledger *ledger.Service
	payout config.PayoutConfig
}

func NewEngine(l *ledger.Service, payout config.PayoutConfig) *Engine {
	return &Engine{ledger: l, payout: payout}
}

func (e *Engine) Ledger() *ledger.Service {
	return e.ledger
}

// ChargeAllSeats escrows every stake or none. Any failure is reported as
// ErrPaymentFailed wrapping the ledger cause.
func (e *Engine) ChargeAllSeats(ctx context.Context, pot ledger.Pot, stakes []ledger.Stake) error {
	if len(stakes) == 0 {
		return nil
	}
	if err := e.ledger.EscrowAll(ctx, pot, stakes, "stake"); err != nil {
		metrics.ChargeFailures.Inc()
		logger.Log.Info("stake collection rolled back",
			zap.String("roomID", pot.RoomID),
			zap.Int("round", pot.Round),
			zap.Int("seats", len(stakes)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", appErr.ErrPaymentFailed, err)
	}
	return nil
}

// RefundSeat returns a seat's escrowed stake before the round is settled.
func (e *Engine) RefundSeat(ctx context.Context, pot ledger.Pot, userID int64, reason string) (int64, error) {
	return e.ledger.Refund(ctx, pot, userID, reason)
}

type Request struct {
	Pot     ledger.Pot
	Outcome Outcome
	// Seats in seat order, including a seat that is leaving.
	Seats  []int64
	Host   int64
	Pooled bool
}

type Result struct {
	RoomID    string          `json:"roomId"`
	Round     int             `json:"round"`
	Outcome   Outcome         `json:"outcome"`
	Currency  model.Currency  `json:"currency"`
	Pot       int64           `json:"pot"`
	Payouts   []ledger.Payout `json:"payouts"`
	Replayed  bool            `json:"-"`
	SettledAt time.Time       `json:"settledAt"`
}

// Settle drains the round's pot. A round that is already settled is not
// paid again: the stored result is returned with Replayed set.
func (e *Engine) Settle(ctx context.Context, req Request) (*Result, error) {
	policy := Policy{Pooled: req.Pooled}
	if req.Pooled {
		policy.WinnerPct = e.payout.WinnerPct
		policy.HostPct = e.payout.HostPct
		policy.SponsorPct = e.payout.SponsorPct
	}
	split := func(contributions []model.EscrowContribution) ([]ledger.Payout, error) {
		return ComputeSplit(SplitInput{
			Outcome:       req.Outcome,
			Contributions: contributions,
			Seats:         req.Seats,
			Host:          req.Host,
			Sponsor:       e.ledger.TreasuryUserID(),
			Policy:        policy,
		})
	}

	record, err := e.ledger.SettlePot(ctx, req.Pot, req.Outcome.String(), split)
	replayed := errors.Is(err, appErr.ErrAlreadySettled)
	if err != nil && !replayed {
		metrics.SettlementFailures.Inc()
		return nil, err
	}
	result, err := resultOf(record)
	if err != nil {
		return nil, err
	}
	result.Replayed = replayed

	if replayed {
		metrics.SettlementReplays.Inc()
		logger.Log.Info("settlement replayed",
			zap.String("roomID", result.RoomID),
			zap.Int("round", result.Round),
			zap.String("outcome", result.Outcome.String()),
		)
		return result, nil
	}
	metrics.Settlements.WithLabelValues(string(result.Outcome.Kind)).Inc()
	logger.Log.Info("round settled",
		zap.String("roomID", result.RoomID),
		zap.Int("round", result.Round),
		zap.String("outcome", result.Outcome.String()),
		zap.Int64("amount", result.Pot),
		zap.Int("payouts", len(result.Payouts)),
	)
	return result, nil
}

func resultOf(record *model.Settlement) (*Result, error) {
	outcome, err := ParseOutcome(record.Outcome)
	if err != nil {
		return nil, err
	}
	payouts, err := ledger.DecodePayouts(record)
	if err != nil {
		return nil, err
	}
	return &Result{
		RoomID:    record.RoomID,
		Round:     record.Round,
		Outcome:   outcome,
		Currency:  record.Currency,
		Pot:       record.Pot,
		Payouts:   payouts,
		SettledAt: record.CreatedAt,
	}, nil
}
