package repo

import (
	"context"

	"gameroom-service/internal/model"
)

// Store is the transactional ledger backend. Every ledger operation runs
// inside exactly one Tx; an error returned from fn discards all its writes.
type Store interface {
	Tx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the ledger inside one transaction. Reads observe the
// transaction's own writes.
type Tx interface {
	// Wallet returns the user's wallet, or a zero wallet when none exists yet.
	Wallet(userID int64) (*model.Wallet, error)
	PutWallet(w *model.Wallet) error
	// TotalWalletFires sums fires over every wallet.
	TotalWalletFires() (int64, error)

	// Supply returns the singleton supply row, zero-valued before seeding.
	Supply() (*model.SupplyState, error)
	PutSupply(s *model.SupplyState) error

	AppendEntry(e *model.LedgerEntry) error
	Entries(userID int64, limit int) ([]model.LedgerEntry, error)

	Contributions(roomID string, round int) ([]model.EscrowContribution, error)
	PutContribution(c *model.EscrowContribution) error
	DeleteContribution(roomID string, round int, userID int64) error
	DeletePot(roomID string, round int) error
	// EscrowedFires sums fires held in every open pot.
	EscrowedFires() (int64, error)

	// Settlement returns nil when the round has not been settled.
	Settlement(roomID string, round int) (*model.Settlement, error)
	PutSettlement(s *model.Settlement) error
}

type potKey struct {
	roomID string
	round  int
}
