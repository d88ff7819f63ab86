package ledger

import (
	"context"
	"fmt"
	"time"

	"gameroom-service/internal/model"
	"gameroom-service/internal/repo"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	// TreasuryUserID receives reserve allocations and the sponsor share of
	// pooled pots.
	TreasuryUserID int64
	// Retries bounds re-runs of a transaction that failed for a reason other
	// than a domain error.
	Retries int
	Now     func() time.Time
}

type Service struct {
	store repo.Store
	opts  Options
}

func NewService(store repo.Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Service{store: store, opts: opts}
}

func (s *Service) TreasuryUserID() int64 {
	return s.opts.TreasuryUserID
}

// InitSupply seeds the supply row once. A store that is already seeded keeps
// its state.
func (s *Service) InitSupply(ctx context.Context, maxSupply int64) error {
	if maxSupply <= 0 {
		return appErr.ErrInvalidAmount
	}
	return s.run(ctx, func(tx repo.Tx) error {
		state, err := tx.Supply()
		if err != nil {
			return err
		}
		if state.MaxSupply != 0 {
			if state.MaxSupply != maxSupply {
				logger.Log.Warn("supply already seeded with a different cap",
					zap.Int64("stored", state.MaxSupply),
					zap.Int64("configured", maxSupply),
				)
			}
			return nil
		}
		state.MaxSupply = maxSupply
		state.ReserveRemaining = maxSupply
		state.UpdatedAt = s.opts.Now()
		return tx.PutSupply(state)
	})
}

func (s *Service) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	if userID <= 0 {
		return nil, appErr.ErrInvalidAccount
	}
	var wallet *model.Wallet
	err := s.run(ctx, func(tx repo.Tx) error {
		var err error
		wallet, err = tx.Wallet(userID)
		return err
	})
	return wallet, err
}

func (s *Service) GetBalance(ctx context.Context, userID int64, currency model.Currency) (int64, error) {
	if !currency.Valid() {
		return 0, appErr.ErrInvalidCurrency
	}
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance(currency), nil
}

// Credit adds funds to a wallet. Fires come out of the reserve.
func (s *Service) Credit(ctx context.Context, userID int64, currency model.Currency, amount int64, reason string) error {
	if err := validate(userID, currency, amount); err != nil {
		return err
	}
	return s.run(ctx, func(tx repo.Tx) error {
		if currency == model.Fires {
			if err := s.mintLocked(tx, amount); err != nil {
				return err
			}
		}
		if err := s.addLocked(tx, userID, currency, amount); err != nil {
			return err
		}
		return s.appendLocked(tx, model.EntryCredit, currency, amount, nil, &userID, reason, nil)
	})
}

// Debit removes funds from a wallet. Debited fires are burned.
func (s *Service) Debit(ctx context.Context, userID int64, currency model.Currency, amount int64, reason string) error {
	if err := validate(userID, currency, amount); err != nil {
		return err
	}
	return s.run(ctx, func(tx repo.Tx) error {
		if err := s.addLocked(tx, userID, currency, -amount); err != nil {
			return err
		}
		if currency == model.Fires {
			if err := s.burnLocked(tx, amount); err != nil {
				return err
			}
		}
		return s.appendLocked(tx, model.EntryDebit, currency, amount, &userID, nil, reason, nil)
	})
}

// Transfer moves funds between two wallets. The debit and the credit share
// one transaction, so a failed credit leaves both wallets untouched.
func (s *Service) Transfer(ctx context.Context, fromID, toID int64, currency model.Currency, amount int64, reason string) error {
	if err := validate(fromID, currency, amount); err != nil {
		return err
	}
	if fromID == toID {
		return fmt.Errorf("%w: transfer to self", appErr.ErrInvalidAccount)
	}
	return s.run(ctx, func(tx repo.Tx) error {
		if err := s.addLocked(tx, fromID, currency, -amount); err != nil {
			return err
		}
		if toID <= 0 {
			return fmt.Errorf("%w: destination %d", appErr.ErrInvalidAccount, toID)
		}
		if err := s.addLocked(tx, toID, currency, amount); err != nil {
			return err
		}
		return s.appendLocked(tx, model.EntryTransfer, currency, amount, &fromID, &toID, reason, nil)
	})
}

// AllocateFromReserve mints fires into the treasury wallet.
func (s *Service) AllocateFromReserve(ctx context.Context, amount int64, reason string) error {
	treasury := s.opts.TreasuryUserID
	if err := validate(treasury, model.Fires, amount); err != nil {
		return err
	}
	return s.run(ctx, func(tx repo.Tx) error {
		if err := s.mintLocked(tx, amount); err != nil {
			return err
		}
		if err := s.addLocked(tx, treasury, model.Fires, amount); err != nil {
			return err
		}
		return s.appendLocked(tx, model.EntryAllocate, model.Fires, amount, nil, &treasury, reason, nil)
	})
}

// GrantFromReserve mints fires straight into a user's wallet.
func (s *Service) GrantFromReserve(ctx context.Context, userID, amount int64, reason string) error {
	if err := validate(userID, model.Fires, amount); err != nil {
		return err
	}
	return s.run(ctx, func(tx repo.Tx) error {
		if err := s.mintLocked(tx, amount); err != nil {
			return err
		}
		if err := s.addLocked(tx, userID, model.Fires, amount); err != nil {
			return err
		}
		return s.appendLocked(tx, model.EntryGrant, model.Fires, amount, nil, &userID, reason, nil)
	})
}

// Burn destroys fires held by a user.
func (s *Service) Burn(ctx context.Context, userID, amount int64, reason string) error {
	if err := validate(userID, model.Fires, amount); err != nil {
		return err
	}
	return s.run(ctx, func(tx repo.Tx) error {
		if err := s.addLocked(tx, userID, model.Fires, -amount); err != nil {
			return err
		}
		if err := s.burnLocked(tx, amount); err != nil {
			return err
		}
		return s.appendLocked(tx, model.EntryBurn, model.Fires, amount, &userID, nil, reason, nil)
	})
}

func (s *Service) Supply(ctx context.Context) (*model.SupplyState, error) {
	var state *model.SupplyState
	err := s.run(ctx, func(tx repo.Tx) error {
		var err error
		state, err = tx.Supply()
		return err
	})
	return state, err
}

// History returns the newest entries touching userID, newest first.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	if userID <= 0 {
		return nil, appErr.ErrInvalidAccount
	}
	var entries []model.LedgerEntry
	err := s.run(ctx, func(tx repo.Tx) error {
		var err error
		entries, err = tx.Entries(userID, limit)
		return err
	})
	return entries, err
}

// Audit is a point-in-time view of fires accounting.
type Audit struct {
	Supply        model.SupplyState
	WalletFires   int64
	EscrowedFires int64
}

// Reconcile checks the fires invariants and returns the audit it checked.
func (s *Service) Reconcile(ctx context.Context) (*Audit, error) {
	audit := &Audit{}
	err := s.run(ctx, func(tx repo.Tx) error {
		state, err := tx.Supply()
		if err != nil {
			return err
		}
		audit.Supply = *state
		if audit.WalletFires, err = tx.TotalWalletFires(); err != nil {
			return err
		}
		audit.EscrowedFires, err = tx.EscrowedFires()
		return err
	})
	if err != nil {
		return nil, err
	}
	st := audit.Supply
	switch {
	case st.Minted+st.ReserveRemaining != st.MaxSupply:
		return audit, fmt.Errorf("ledger imbalance: minted %d + reserve %d != max %d", st.Minted, st.ReserveRemaining, st.MaxSupply)
	case st.Circulating != st.Minted-st.Burned:
		return audit, fmt.Errorf("ledger imbalance: circulating %d != minted %d - burned %d", st.Circulating, st.Minted, st.Burned)
	case st.Circulating != audit.WalletFires+audit.EscrowedFires:
		return audit, fmt.Errorf("ledger imbalance: circulating %d != wallets %d + escrow %d", st.Circulating, audit.WalletFires, audit.EscrowedFires)
	}
	return audit, nil
}

func validate(userID int64, currency model.Currency, amount int64) error {
	if userID <= 0 {
		return appErr.ErrInvalidAccount
	}
	if !currency.Valid() {
		return appErr.ErrInvalidCurrency
	}
	if amount <= 0 {
		return appErr.ErrInvalidAmount
	}
	return nil
}

func (s *Service) addLocked(tx repo.Tx, userID int64, currency model.Currency, delta int64) error {
	wallet, err := tx.Wallet(userID)
	if err != nil {
		return err
	}
	if wallet.Balance(currency)+delta < 0 {
		return appErr.ErrInsufficientFunds
	}
	wallet.Add(currency, delta)
	wallet.UpdatedAt = s.opts.Now()
	return tx.PutWallet(wallet)
}

func (s *Service) mintLocked(tx repo.Tx, amount int64) error {
	state, err := tx.Supply()
	if err != nil {
		return err
	}
	if amount > state.ReserveRemaining {
		return appErr.ErrReserveExhausted
	}
	state.ReserveRemaining -= amount
	state.Minted += amount
	state.Circulating += amount
	state.UpdatedAt = s.opts.Now()
	return tx.PutSupply(state)
}

func (s *Service) burnLocked(tx repo.Tx, amount int64) error {
	state, err := tx.Supply()
	if err != nil {
		return err
	}
	if amount > state.Circulating {
		return fmt.Errorf("%w: burn exceeds circulating supply", appErr.ErrInvalidAmount)
	}
	state.Burned += amount
	state.Circulating -= amount
	state.UpdatedAt = s.opts.Now()
	return tx.PutSupply(state)
}

func (s *Service) appendLocked(tx repo.Tx, typ string, currency model.Currency, amount int64, from, to *int64, reason string, pot *Pot) error {
	entry := &model.LedgerEntry{
		ID:       uuid.NewString(),
		Ts:       s.opts.Now(),
		Type:     typ,
		Currency: currency,
		Amount:   amount,
		FromID:   from,
		ToID:     to,
		Reason:   reason,
	}
	if pot != nil {
		entry.RoomID = pot.RoomID
		entry.Round = pot.Round
	}
	return tx.AppendEntry(entry)
}

// run executes fn in a store transaction, re-running it when the failure is
// not a domain error. fn must not leak state between attempts.
func (s *Service) run(ctx context.Context, fn func(tx repo.Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			}
		}
		err = s.store.Tx(ctx, fn)
		if err == nil || appErr.IsDomain(err) || ctx.Err() != nil {
			return err
		}
		logger.Log.Warn("ledger transaction failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}
