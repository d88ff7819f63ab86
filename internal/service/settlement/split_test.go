package settlement_test

import (
	"errors"
	"testing"

	"gameroom-service/internal/model"
	"gameroom-service/internal/service/ledger"
	"gameroom-service/internal/service/settlement"
	appErr "gameroom-service/pkg/errors"
)

func pot(amounts map[int64]int64, order ...int64) []model.EscrowContribution {
	var out []model.EscrowContribution
	for _, uid := range order {
		out = append(out, model.EscrowContribution{UserID: uid, Amount: amounts[uid], Currency: model.Fires})
	}
	return out
}

func byUser(payouts []ledger.Payout) map[int64]int64 {
	out := make(map[int64]int64)
	for _, p := range payouts {
		out[p.UserID] += p.Amount
	}
	return out
}

func TestComputeSplit(t *testing.T) {
	pooled := settlement.Policy{Pooled: true, WinnerPct: 70, HostPct: 20, SponsorPct: 10}
	cases := []struct {
		name string
		in   settlement.SplitInput
		want map[int64]int64
	}{
		{
			name: "duel win takes all",
			in: settlement.SplitInput{
				Outcome:       settlement.Win(1),
				Contributions: pot(map[int64]int64{1: 3, 2: 3}, 1, 2),
				Seats:         []int64{1, 2},
			},
			want: map[int64]int64{1: 6},
		},
		{
			name: "draw residue goes to first paying seat",
			in: settlement.SplitInput{
				Outcome:       settlement.Draw(),
				Contributions: pot(map[int64]int64{1: 4, 2: 3, 3: 3}, 2, 1, 3),
				Seats:         []int64{1, 2, 3},
			},
			want: map[int64]int64{1: 4, 2: 3, 3: 3},
		},
		{
			name: "draw skips unpaid seats",
			in: settlement.SplitInput{
				Outcome:       settlement.Draw(),
				Contributions: pot(map[int64]int64{2: 5, 3: 5}, 2, 3),
				Seats:         []int64{1, 2, 3},
			},
			want: map[int64]int64{2: 5, 3: 5},
		},
		{
			name: "forfeit pays the other seat",
			in: settlement.SplitInput{
				Outcome:       settlement.Forfeit(1),
				Contributions: pot(map[int64]int64{1: 3, 2: 3}, 1, 2),
				Seats:         []int64{1, 2},
			},
			want: map[int64]int64{2: 6},
		},
		{
			name: "forfeit shares among remaining seats",
			in: settlement.SplitInput{
				Outcome:       settlement.Forfeit(2),
				Contributions: pot(map[int64]int64{1: 5, 2: 5, 3: 5}, 1, 2, 3),
				Seats:         []int64{1, 2, 3},
			},
			want: map[int64]int64{1: 8, 3: 7},
		},
		{
			name: "forfeit by the last seat refunds",
			in: settlement.SplitInput{
				Outcome:       settlement.Forfeit(1),
				Contributions: pot(map[int64]int64{1: 3}, 1),
				Seats:         []int64{1},
			},
			want: map[int64]int64{1: 3},
		},
		{
			name: "abort refunds contributions",
			in: settlement.SplitInput{
				Outcome:       settlement.Abort(),
				Contributions: pot(map[int64]int64{1: 3, 2: 7}, 1, 2),
				Seats:         []int64{1, 2},
			},
			want: map[int64]int64{1: 3, 2: 7},
		},
		{
			name: "pooled win with residue to winner",
			in: settlement.SplitInput{
				Outcome:       settlement.Win(3),
				Contributions: pot(map[int64]int64{2: 11, 3: 11, 4: 11}, 2, 3, 4),
				Seats:         []int64{1, 2, 3, 4},
				Host:          1,
				Sponsor:       99,
				Policy:        pooled,
			},
			want: map[int64]int64{3: 24, 1: 6, 99: 3},
		},
		{
			name: "pooled win by the host merges shares",
			in: settlement.SplitInput{
				Outcome:       settlement.Win(1),
				Contributions: pot(map[int64]int64{1: 50, 2: 50}, 1, 2),
				Seats:         []int64{1, 2},
				Host:          1,
				Sponsor:       99,
				Policy:        pooled,
			},
			want: map[int64]int64{1: 90, 99: 10},
		},
		{
			name: "empty pot pays nothing",
			in: settlement.SplitInput{
				Outcome: settlement.Win(1),
				Seats:   []int64{1, 2},
			},
			want: map[int64]int64{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payouts, err := settlement.ComputeSplit(tc.in)
			if err != nil {
				t.Fatalf("split: %v", err)
			}
			got := byUser(payouts)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for uid, amount := range tc.want {
				if got[uid] != amount {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestComputeSplitRejectsBadInput(t *testing.T) {
	contributions := pot(map[int64]int64{1: 3, 2: 3}, 1, 2)
	cases := []struct {
		name string
		in   settlement.SplitInput
	}{
		{"winner not seated", settlement.SplitInput{Outcome: settlement.Win(7), Contributions: contributions, Seats: []int64{1, 2}}},
		{"percentages off", settlement.SplitInput{
			Outcome: settlement.Win(1), Contributions: contributions, Seats: []int64{1, 2}, Host: 1, Sponsor: 9,
			Policy: settlement.Policy{Pooled: true, WinnerPct: 70, HostPct: 20, SponsorPct: 20},
		}},
		{"no sponsor", settlement.SplitInput{
			Outcome: settlement.Win(1), Contributions: pot(map[int64]int64{1: 50, 2: 50}, 1, 2), Seats: []int64{1, 2}, Host: 1,
			Policy: settlement.Policy{Pooled: true, WinnerPct: 70, HostPct: 20, SponsorPct: 10},
		}},
		{"unknown outcome", settlement.SplitInput{Outcome: settlement.Outcome{Kind: "bogus"}, Contributions: contributions}},
	}
	for _, tc := range cases {
		if _, err := settlement.ComputeSplit(tc.in); !errors.Is(err, appErr.ErrInvalidSplit) {
			t.Fatalf("%s: expected ErrInvalidSplit, got %v", tc.name, err)
		}
	}
}

func TestOutcomeRoundTrip(t *testing.T) {
	for _, o := range []settlement.Outcome{settlement.Win(42), settlement.Forfeit(7), settlement.Draw(), settlement.Abort()} {
		got, err := settlement.ParseOutcome(o.String())
		if err != nil || got != o {
			t.Fatalf("parse %q = %+v, %v", o.String(), got, err)
		}
	}
	if _, err := settlement.ParseOutcome("win"); err == nil {
		t.Fatalf("expected error for win without seat")
	}
}
