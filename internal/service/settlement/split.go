package settlement

import (
	"fmt"
	"strconv"
	"strings"

	"gameroom-service/internal/model"
	"gameroom-service/internal/service/ledger"
	appErr "gameroom-service/pkg/errors"
)

type Kind string

const (
	KindWin     Kind = "win"
	KindDraw    Kind = "draw"
	KindForfeit Kind = "forfeit"
	KindAbort   Kind = "abort"
)

// Outcome ends a round. UserID is the winner for KindWin and the forfeiting
// seat for KindForfeit.
type Outcome struct {
	Kind   Kind  `json:"kind"`
	UserID int64 `json:"userId,omitempty"`
}

func Win(userID int64) Outcome     { return Outcome{Kind: KindWin, UserID: userID} }
func Forfeit(userID int64) Outcome { return Outcome{Kind: KindForfeit, UserID: userID} }
func Draw() Outcome                { return Outcome{Kind: KindDraw} }
func Abort() Outcome               { return Outcome{Kind: KindAbort} }

func (o Outcome) String() string {
	if o.Kind == KindWin || o.Kind == KindForfeit {
		return string(o.Kind) + ":" + strconv.FormatInt(o.UserID, 10)
	}
	return string(o.Kind)
}

// ParseOutcome reverses Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	kind, id, found := strings.Cut(s, ":")
	o := Outcome{Kind: Kind(kind)}
	switch o.Kind {
	case KindWin, KindForfeit:
		if !found {
			return Outcome{}, fmt.Errorf("outcome %q: missing seat", s)
		}
		v, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return Outcome{}, fmt.Errorf("outcome %q: %w", s, err)
		}
		o.UserID = v
	case KindDraw, KindAbort:
	default:
		return Outcome{}, fmt.Errorf("outcome %q: unknown kind", s)
	}
	return o, nil
}

// Policy is the win split of a game. A non-pooled win pays the winner the
// whole pot; a pooled win splits winner/host/sponsor by percent.
type Policy struct {
	Pooled     bool
	WinnerPct  int64
	HostPct    int64
	SponsorPct int64
}

// SplitInput is everything a split depends on. Seats is in seat order; the
// first paying seat in that order receives any integer-division residue of
// a draw or a shared forfeit.
type SplitInput struct {
	Outcome       Outcome
	Contributions []model.EscrowContribution
	Seats         []int64
	Host          int64
	Sponsor       int64
	Policy        Policy
}

// Payout roles.
const (
	RoleWinner  = "winner"
	RoleHost    = "host"
	RoleSponsor = "sponsor"
	RoleShare   = "share"
	RoleRefund  = "refund"
)

// ComputeSplit returns payouts that sum exactly to the pot, or
// ErrInvalidSplit.
func ComputeSplit(in SplitInput) ([]ledger.Payout, error) {
	var total int64
	for _, c := range in.Contributions {
		if c.Amount < 0 {
			return nil, fmt.Errorf("%w: negative contribution", appErr.ErrInvalidSplit)
		}
		total += c.Amount
	}

	switch in.Outcome.Kind {
	case KindWin:
		if !contains(in.Seats, in.Outcome.UserID) {
			return nil, fmt.Errorf("%w: winner %d is not seated", appErr.ErrInvalidSplit, in.Outcome.UserID)
		}
		if total == 0 {
			return nil, nil
		}
		if !in.Policy.Pooled {
			return []ledger.Payout{{UserID: in.Outcome.UserID, Amount: total, Role: RoleWinner}}, nil
		}
		return pooledWin(in, total)
	case KindDraw:
		return shares(payingSeats(in), total)
	case KindForfeit:
		var rest []int64
		for _, uid := range in.Seats {
			if uid != in.Outcome.UserID {
				rest = append(rest, uid)
			}
		}
		if len(rest) == 0 {
			return refunds(in.Contributions), nil
		}
		return shares(rest, total)
	case KindAbort:
		return refunds(in.Contributions), nil
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", appErr.ErrInvalidSplit, in.Outcome.Kind)
	}
}

func pooledWin(in SplitInput, total int64) ([]ledger.Payout, error) {
	p := in.Policy
	if p.WinnerPct < 0 || p.HostPct < 0 || p.SponsorPct < 0 || p.WinnerPct+p.HostPct+p.SponsorPct != 100 {
		return nil, fmt.Errorf("%w: percentages %d/%d/%d", appErr.ErrInvalidSplit, p.WinnerPct, p.HostPct, p.SponsorPct)
	}
	hostShare := total * p.HostPct / 100
	sponsorShare := total * p.SponsorPct / 100
	if hostShare > 0 && in.Host <= 0 {
		return nil, fmt.Errorf("%w: no host for host share", appErr.ErrInvalidSplit)
	}
	if sponsorShare > 0 && in.Sponsor <= 0 {
		return nil, fmt.Errorf("%w: no sponsor for sponsor share", appErr.ErrInvalidSplit)
	}
	out := []ledger.Payout{{UserID: in.Outcome.UserID, Amount: total - hostShare - sponsorShare, Role: RoleWinner}}
	out = addPayout(out, ledger.Payout{UserID: in.Host, Amount: hostShare, Role: RoleHost})
	out = addPayout(out, ledger.Payout{UserID: in.Sponsor, Amount: sponsorShare, Role: RoleSponsor})
	return out, nil
}

// payingSeats lists contributors in seat order, then any contributor no
// longer seated.
func payingSeats(in SplitInput) []int64 {
	paid := make(map[int64]bool, len(in.Contributions))
	for _, c := range in.Contributions {
		if c.Amount > 0 {
			paid[c.UserID] = true
		}
	}
	var out []int64
	for _, uid := range in.Seats {
		if paid[uid] {
			out = append(out, uid)
			delete(paid, uid)
		}
	}
	for _, c := range in.Contributions {
		if paid[c.UserID] {
			out = append(out, c.UserID)
			delete(paid, c.UserID)
		}
	}
	return out
}

func shares(recipients []int64, total int64) ([]ledger.Payout, error) {
	if total == 0 {
		return nil, nil
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients for %d", appErr.ErrInvalidSplit, total)
	}
	n := int64(len(recipients))
	each := total / n
	residue := total % n
	out := make([]ledger.Payout, 0, len(recipients))
	for i, uid := range recipients {
		amount := each
		if i == 0 {
			amount += residue
		}
		out = addPayout(out, ledger.Payout{UserID: uid, Amount: amount, Role: RoleShare})
	}
	return out, nil
}

func refunds(contributions []model.EscrowContribution) []ledger.Payout {
	var out []ledger.Payout
	for _, c := range contributions {
		out = addPayout(out, ledger.Payout{UserID: c.UserID, Amount: c.Amount, Role: RoleRefund})
	}
	return out
}

// addPayout merges p into an existing payout for the same user. Zero
// amounts are dropped.
func addPayout(out []ledger.Payout, p ledger.Payout) []ledger.Payout {
	if p.Amount == 0 {
		return out
	}
	for i := range out {
		if out[i].UserID == p.UserID {
			out[i].Amount += p.Amount
			return out
		}
	}
	return append(out, p)
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
