package repo

import (
	"context"
	"errors"

	"gameroom-service/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const supplyRowID = 1

// GormStore runs each ledger operation in one database transaction. Wallet,
// supply and pot rows are read with FOR UPDATE on dialects that support it.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Tx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{
			tx:      tx,
			wallets: make(map[int64]bool),
		})
	})
}

type gormTx struct {
	tx *gorm.DB
	// wallets records which wallet rows exist, keyed by user id.
	wallets map[int64]bool
}

func (t *gormTx) forUpdate() *gorm.DB {
	if t.tx.Dialector.Name() == "sqlite" {
		return t.tx
	}
	return t.tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) Wallet(userID int64) (*model.Wallet, error) {
	wallet := &model.Wallet{}
	err := t.forUpdate().Where("user_id = ?", userID).First(wallet).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		t.wallets[userID] = false
		return &model.Wallet{UserID: userID}, nil
	}
	t.wallets[userID] = true
	return wallet, nil
}

func (t *gormTx) PutWallet(w *model.Wallet) error {
	exists, known := t.wallets[w.UserID]
	if !known {
		var count int64
		if err := t.tx.Model(&model.Wallet{}).Where("user_id = ?", w.UserID).Count(&count).Error; err != nil {
			return err
		}
		exists = count > 0
	}
	var err error
	if exists {
		err = t.tx.Save(w).Error
	} else {
		err = t.tx.Create(w).Error
	}
	if err == nil {
		t.wallets[w.UserID] = true
	}
	return err
}

func (t *gormTx) TotalWalletFires() (int64, error) {
	var total int64
	err := t.tx.Model(&model.Wallet{}).Select("COALESCE(SUM(fires), 0)").Scan(&total).Error
	return total, err
}

func (t *gormTx) Supply() (*model.SupplyState, error) {
	state := &model.SupplyState{}
	err := t.forUpdate().Where("id = ?", supplyRowID).First(state).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return &model.SupplyState{ID: supplyRowID}, nil
	}
	return state, nil
}

func (t *gormTx) PutSupply(s *model.SupplyState) error {
	s.ID = supplyRowID
	return t.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error
}

func (t *gormTx) AppendEntry(e *model.LedgerEntry) error {
	return t.tx.Create(e).Error
}

func (t *gormTx) Entries(userID int64, limit int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	q := t.tx.Where("from_id = ? OR to_id = ?", userID, userID).Order("ts desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}

func (t *gormTx) Contributions(roomID string, round int) ([]model.EscrowContribution, error) {
	var rows []model.EscrowContribution
	err := t.forUpdate().
		Where("room_id = ? AND round = ?", roomID, round).
		Order("id asc").
		Find(&rows).Error
	return rows, err
}

func (t *gormTx) PutContribution(c *model.EscrowContribution) error {
	if c.ID == 0 {
		return t.tx.Create(c).Error
	}
	return t.tx.Save(c).Error
}

func (t *gormTx) DeleteContribution(roomID string, round int, userID int64) error {
	return t.tx.
		Where("room_id = ? AND round = ? AND user_id = ?", roomID, round, userID).
		Delete(&model.EscrowContribution{}).Error
}

func (t *gormTx) DeletePot(roomID string, round int) error {
	return t.tx.
		Where("room_id = ? AND round = ?", roomID, round).
		Delete(&model.EscrowContribution{}).Error
}

func (t *gormTx) EscrowedFires() (int64, error) {
	var total int64
	err := t.tx.Model(&model.EscrowContribution{}).
		Where("currency = ?", model.Fires).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (t *gormTx) Settlement(roomID string, round int) (*model.Settlement, error) {
	settlement := &model.Settlement{}
	err := t.tx.Where("room_id = ? AND round = ?", roomID, round).First(settlement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return settlement, nil
}

// PutSettlement relies on the (room_id, round) unique index: a concurrent
// settle of the same round fails here and rolls back its transfers.
func (t *gormTx) PutSettlement(s *model.Settlement) error {
	return t.tx.Create(s).Error
}
