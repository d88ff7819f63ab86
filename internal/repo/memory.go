package repo

import (
	"context"
	"sort"
	"sync"

	"gameroom-service/internal/model"
)

// MemoryStore keeps the ledger in process. Transactions are serialized by a
// single writer lock and their writes are staged until fn returns nil.
type MemoryStore struct {
	mu            sync.Mutex
	wallets       map[int64]model.Wallet
	supply        model.SupplyState
	entries       []model.LedgerEntry
	contributions map[potKey][]model.EscrowContribution
	settlements   map[potKey]model.Settlement
	nextContribID int64
	nextSettleID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:       make(map[int64]model.Wallet),
		contributions: make(map[potKey][]model.EscrowContribution),
		settlements:   make(map[potKey]model.Settlement),
	}
}

func (s *MemoryStore) Tx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:       s,
		wallets:     make(map[int64]model.Wallet),
		pots:        make(map[potKey][]model.EscrowContribution),
		settlements: make(map[potKey]model.Settlement),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commitLocked()
	return nil
}

type memoryTx struct {
	store       *MemoryStore
	wallets     map[int64]model.Wallet
	supply      *model.SupplyState
	entries     []model.LedgerEntry
	pots        map[potKey][]model.EscrowContribution
	settlements map[potKey]model.Settlement
	nextContrib int64
	nextSettle  int64
}

func (t *memoryTx) Wallet(userID int64) (*model.Wallet, error) {
	if w, ok := t.wallets[userID]; ok {
		return &w, nil
	}
	if w, ok := t.store.wallets[userID]; ok {
		return &w, nil
	}
	return &model.Wallet{UserID: userID}, nil
}

func (t *memoryTx) PutWallet(w *model.Wallet) error {
	t.wallets[w.UserID] = *w
	return nil
}

func (t *memoryTx) TotalWalletFires() (int64, error) {
	var total int64
	for id, w := range t.store.wallets {
		if staged, ok := t.wallets[id]; ok {
			w = staged
		}
		total += w.Fires
	}
	for id, w := range t.wallets {
		if _, ok := t.store.wallets[id]; !ok {
			total += w.Fires
		}
	}
	return total, nil
}

func (t *memoryTx) Supply() (*model.SupplyState, error) {
	if t.supply != nil {
		s := *t.supply
		return &s, nil
	}
	s := t.store.supply
	s.ID = 1
	return &s, nil
}

func (t *memoryTx) PutSupply(s *model.SupplyState) error {
	cp := *s
	t.supply = &cp
	return nil
}

func (t *memoryTx) AppendEntry(e *model.LedgerEntry) error {
	t.entries = append(t.entries, *e)
	return nil
}

func (t *memoryTx) Entries(userID int64, limit int) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	all := append(append([]model.LedgerEntry{}, t.store.entries...), t.entries...)
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if (e.FromID != nil && *e.FromID == userID) || (e.ToID != nil && *e.ToID == userID) {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (t *memoryTx) pot(key potKey) []model.EscrowContribution {
	if p, ok := t.pots[key]; ok {
		return p
	}
	return t.store.contributions[key]
}

func (t *memoryTx) Contributions(roomID string, round int) ([]model.EscrowContribution, error) {
	p := t.pot(potKey{roomID, round})
	return append([]model.EscrowContribution(nil), p...), nil
}

func (t *memoryTx) PutContribution(c *model.EscrowContribution) error {
	key := potKey{c.RoomID, c.Round}
	p := append([]model.EscrowContribution(nil), t.pot(key)...)
	for i := range p {
		if p[i].UserID == c.UserID {
			p[i] = *c
			t.pots[key] = p
			return nil
		}
	}
	if c.ID == 0 {
		t.nextContrib++
		c.ID = t.store.nextContribID + t.nextContrib
	}
	t.pots[key] = append(p, *c)
	return nil
}

func (t *memoryTx) DeleteContribution(roomID string, round int, userID int64) error {
	key := potKey{roomID, round}
	var p []model.EscrowContribution
	for _, c := range t.pot(key) {
		if c.UserID != userID {
			p = append(p, c)
		}
	}
	if p == nil {
		p = []model.EscrowContribution{}
	}
	t.pots[key] = p
	return nil
}

func (t *memoryTx) DeletePot(roomID string, round int) error {
	t.pots[potKey{roomID, round}] = []model.EscrowContribution{}
	return nil
}

func (t *memoryTx) EscrowedFires() (int64, error) {
	var total int64
	seen := make(map[potKey]bool)
	for key, p := range t.pots {
		seen[key] = true
		total += sumFires(p)
	}
	for key, p := range t.store.contributions {
		if !seen[key] {
			total += sumFires(p)
		}
	}
	return total, nil
}

func sumFires(p []model.EscrowContribution) int64 {
	var total int64
	for _, c := range p {
		if c.Currency == model.Fires {
			total += c.Amount
		}
	}
	return total
}

func (t *memoryTx) Settlement(roomID string, round int) (*model.Settlement, error) {
	key := potKey{roomID, round}
	if s, ok := t.settlements[key]; ok {
		return &s, nil
	}
	if s, ok := t.store.settlements[key]; ok {
		return &s, nil
	}
	return nil, nil
}

func (t *memoryTx) PutSettlement(s *model.Settlement) error {
	if s.ID == 0 {
		t.nextSettle++
		s.ID = t.store.nextSettleID + t.nextSettle
	}
	t.settlements[potKey{s.RoomID, s.Round}] = *s
	return nil
}

func (t *memoryTx) commitLocked() {
	s := t.store
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	if t.supply != nil {
		s.supply = *t.supply
	}
	s.entries = append(s.entries, t.entries...)
	for key, p := range t.pots {
		if len(p) == 0 {
			delete(s.contributions, key)
			continue
		}
		s.contributions[key] = p
	}
	for key, st := range t.settlements {
		s.settlements[key] = st
	}
	s.nextContribID += t.nextContrib
	s.nextSettleID += t.nextSettle
}

// Wallets returns a copy of every wallet ordered by user id.
func (s *MemoryStore) Wallets() []model.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
