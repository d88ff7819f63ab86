package model

import (
	"time"

	"gorm.io/datatypes"
)

type Currency string

const (
	Fires Currency = "fires"
	Coins Currency = "coins"
)

func (c Currency) Valid() bool {
	return c == Fires || c == Coins
}

// Ledger entry types.
const (
	EntryCredit   = "credit"
	EntryDebit    = "debit"
	EntryTransfer = "transfer"
	EntryAllocate = "allocate"
	EntryGrant    = "grant"
	EntryBurn     = "burn"
	EntryEscrow   = "escrow"
	EntryRefund   = "refund"
	EntryPayout   = "payout"
)

// 1. Ledger

type Wallet struct {
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`
	Fires     int64 `gorm:"not null;default:0"`
	Coins     int64 `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (w *Wallet) Balance(c Currency) int64 {
	if c == Fires {
		return w.Fires
	}
	return w.Coins
}

func (w *Wallet) Add(c Currency, delta int64) {
	if c == Fires {
		w.Fires += delta
		return
	}
	w.Coins += delta
}

// LedgerEntry is append-only. FromID/ToID are nil for reserve, burn and pot
// sides of a movement.
type LedgerEntry struct {
	ID       string    `gorm:"primaryKey;size:36"`
	Ts       time.Time `gorm:"index"`
	Type     string    `gorm:"size:16;not null"`
	Currency Currency  `gorm:"size:8;not null"`
	Amount   int64     `gorm:"not null"`
	FromID   *int64    `gorm:"index"`
	ToID     *int64    `gorm:"index"`
	Reason   string
	RoomID   string `gorm:"size:36;index"`
	Round    int
}

// SupplyState is a single row (ID 1).
type SupplyState struct {
	ID               int64 `gorm:"primaryKey;autoIncrement:false"`
	MaxSupply        int64
	Minted           int64
	Burned           int64
	ReserveRemaining int64
	Circulating      int64
	UpdatedAt        time.Time
}

// 2. Escrow & settlement

// EscrowContribution is one seat's stake in a pot. A pot is the set of rows
// sharing (RoomID, Round).
type EscrowContribution struct {
	ID        int64    `gorm:"primaryKey;autoIncrement"`
	RoomID    string   `gorm:"size:36;not null;uniqueIndex:idx_pot_user"`
	Round     int      `gorm:"not null;uniqueIndex:idx_pot_user"`
	UserID    int64    `gorm:"not null;uniqueIndex:idx_pot_user"`
	Currency  Currency `gorm:"size:8;not null"`
	Amount    int64    `gorm:"not null"`
	CreatedAt time.Time
}

// Settlement is the idempotency record for a (RoomID, Round).
type Settlement struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	RoomID    string         `gorm:"size:36;not null;uniqueIndex:idx_settle_round"`
	Round     int            `gorm:"not null;uniqueIndex:idx_settle_round"`
	Outcome   string         `gorm:"size:32;not null"` // "forfeit:" plus any int64 id
	Currency  Currency       `gorm:"size:8"`
	Pot       int64          `gorm:"not null"`
	Payouts   datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time
}

// 3. Rooms

// RoomRecord is the last published snapshot of a live room.
type RoomRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Code      string `gorm:"size:16;index"`
	GameType  string `gorm:"size:16;index"`
	Status    string `gorm:"size:16;index"`
	Round     int
	Snapshot  datatypes.JSON `gorm:"type:json"`
	UpdatedAt time.Time
}

// 4. Operators

// Operator is a back-office account allowed to mint and burn supply.
type Operator struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:64;unique;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string
	Status       string `gorm:"default:active;not null"` // active/disabled
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
