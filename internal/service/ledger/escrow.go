package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gameroom-service/internal/model"
	"gameroom-service/internal/repo"
	appErr "gameroom-service/pkg/errors"

	"gorm.io/datatypes"
)

// Pot addresses the escrow of one room round. Pots have no wallet and are
// reachable only through the escrow operations below.
type Pot struct {
	RoomID   string
	Round    int
	Currency model.Currency
}

type Stake struct {
	UserID int64
	Amount int64
}

type Payout struct {
	UserID int64  `json:"userId"`
	Amount int64  `json:"amount"`
	Role   string `json:"role,omitempty"`
}

// SplitFunc turns the pot's contributions into payouts. The payouts must sum
// to the pot exactly.
type SplitFunc func(contributions []model.EscrowContribution) ([]Payout, error)

func (p Pot) validate() error {
	if p.RoomID == "" {
		return appErr.ErrInvalidAccount
	}
	if !p.Currency.Valid() {
		return appErr.ErrInvalidCurrency
	}
	return nil
}

// EscrowAll debits every stake into the pot in a single transaction. If any
// debit fails nothing is charged and the error names the failing user.
func (s *Service) EscrowAll(ctx context.Context, pot Pot, stakes []Stake, reason string) error {
	if err := pot.validate(); err != nil {
		return err
	}
	for _, st := range stakes {
		if err := validate(st.UserID, pot.Currency, st.Amount); err != nil {
			return err
		}
	}
	return s.run(ctx, func(tx repo.Tx) error {
		contributions, err := tx.Contributions(pot.RoomID, pot.Round)
		if err != nil {
			return err
		}
		byUser := make(map[int64]*model.EscrowContribution, len(contributions))
		for i := range contributions {
			c := &contributions[i]
			if c.Currency != pot.Currency {
				return fmt.Errorf("%w: pot holds %s", appErr.ErrInvalidCurrency, c.Currency)
			}
			byUser[c.UserID] = c
		}
		for _, st := range stakes {
			if err := s.addLocked(tx, st.UserID, pot.Currency, -st.Amount); err != nil {
				return fmt.Errorf("user %d: %w", st.UserID, err)
			}
			c, ok := byUser[st.UserID]
			if !ok {
				c = &model.EscrowContribution{
					RoomID:    pot.RoomID,
					Round:     pot.Round,
					UserID:    st.UserID,
					Currency:  pot.Currency,
					CreatedAt: s.opts.Now(),
				}
				byUser[st.UserID] = c
			}
			c.Amount += st.Amount
			if err := tx.PutContribution(c); err != nil {
				return err
			}
			userID := st.UserID
			if err := s.appendLocked(tx, model.EntryEscrow, pot.Currency, st.Amount, &userID, nil, reason, &pot); err != nil {
				return err
			}
		}
		return nil
	})
}

// Refund returns a user's whole contribution from the pot. Refunding a user
// with nothing escrowed is a no-op.
func (s *Service) Refund(ctx context.Context, pot Pot, userID int64, reason string) (int64, error) {
	if pot.RoomID == "" {
		return 0, appErr.ErrInvalidAccount
	}
	var refunded int64
	err := s.run(ctx, func(tx repo.Tx) error {
		refunded = 0
		contributions, err := tx.Contributions(pot.RoomID, pot.Round)
		if err != nil {
			return err
		}
		for _, c := range contributions {
			if c.UserID != userID {
				continue
			}
			if err := s.addLocked(tx, userID, c.Currency, c.Amount); err != nil {
				return err
			}
			if err := tx.DeleteContribution(pot.RoomID, pot.Round, userID); err != nil {
				return err
			}
			uid := userID
			refunded = c.Amount
			return s.appendLocked(tx, model.EntryRefund, c.Currency, c.Amount, nil, &uid, reason, &pot)
		}
		return nil
	})
	return refunded, err
}

// Contributions returns the pot's current contributions.
func (s *Service) Contributions(ctx context.Context, pot Pot) ([]model.EscrowContribution, error) {
	var out []model.EscrowContribution
	err := s.run(ctx, func(tx repo.Tx) error {
		var err error
		out, err = tx.Contributions(pot.RoomID, pot.Round)
		return err
	})
	return out, err
}

// SettlePot drains the pot according to split and records the settlement.
// A round that already has a settlement record is not paid again: the prior
// record is returned together with ErrAlreadySettled.
func (s *Service) SettlePot(ctx context.Context, pot Pot, outcome string, split SplitFunc) (*model.Settlement, error) {
	if pot.RoomID == "" {
		return nil, appErr.ErrInvalidAccount
	}
	var settlement *model.Settlement
	err := s.run(ctx, func(tx repo.Tx) error {
		settlement = nil
		prior, err := tx.Settlement(pot.RoomID, pot.Round)
		if err != nil {
			return err
		}
		if prior != nil {
			settlement = prior
			return appErr.ErrAlreadySettled
		}

		contributions, err := tx.Contributions(pot.RoomID, pot.Round)
		if err != nil {
			return err
		}
		currency := pot.Currency
		var total int64
		for _, c := range contributions {
			currency = c.Currency
			total += c.Amount
		}
		payouts, err := split(contributions)
		if err != nil {
			return err
		}
		var paid int64
		for _, p := range payouts {
			if p.Amount < 0 {
				return fmt.Errorf("%w: negative payout", appErr.ErrInvalidSplit)
			}
			paid += p.Amount
		}
		if paid != total {
			return fmt.Errorf("%w: payouts %d != pot %d", appErr.ErrInvalidSplit, paid, total)
		}

		for _, p := range payouts {
			if p.Amount == 0 {
				continue
			}
			if p.UserID <= 0 {
				return fmt.Errorf("%w: payout to %d", appErr.ErrInvalidAccount, p.UserID)
			}
			if err := s.addLocked(tx, p.UserID, currency, p.Amount); err != nil {
				return err
			}
			uid := p.UserID
			if err := s.appendLocked(tx, model.EntryPayout, currency, p.Amount, nil, &uid, outcome, &pot); err != nil {
				return err
			}
		}
		if err := tx.DeletePot(pot.RoomID, pot.Round); err != nil {
			return err
		}

		payload, err := json.Marshal(payouts)
		if err != nil {
			return err
		}
		record := &model.Settlement{
			RoomID:    pot.RoomID,
			Round:     pot.Round,
			Outcome:   outcome,
			Currency:  currency,
			Pot:       total,
			Payouts:   datatypes.JSON(payload),
			CreatedAt: s.opts.Now(),
		}
		if err := tx.PutSettlement(record); err != nil {
			return err
		}
		settlement = record
		return nil
	})
	if errors.Is(err, appErr.ErrAlreadySettled) {
		return settlement, err
	}
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// DecodePayouts reads the payouts stored on a settlement record.
func DecodePayouts(settlement *model.Settlement) ([]Payout, error) {
	var payouts []Payout
	if len(settlement.Payouts) == 0 {
		return payouts, nil
	}
	if err := json.Unmarshal(settlement.Payouts, &payouts); err != nil {
		return nil, err
	}
	return payouts, nil
}
