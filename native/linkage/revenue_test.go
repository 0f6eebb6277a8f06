package linkage_test

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"carbonlink/native/linkage"
)

func TestSetRevenueSharePreconditions(t *testing.T) {
	cases := []struct {
		name        string
		caller      [20]byte
		key         linkage.Key
		percentage  int64
		want        error
		preexisting int64
	}{
		{name: "missing linkage", caller: creator, key: linkage.Key{FlightID: "FL200", ProjectID: "PRJ-AMAZON"}, percentage: 10, want: linkage.ErrEscrowNotFound},
		{name: "not creator wins over bad percentage", caller: stranger, key: amazon, percentage: 0, want: linkage.ErrNotOwner},
		{name: "negative", caller: creator, key: amazon, percentage: -5, want: linkage.ErrInvalidPercentage},
		{name: "zero", caller: creator, key: amazon, percentage: 0, want: linkage.ErrInvalidPercentage},
		{name: "above hundred", caller: creator, key: amazon, percentage: 101, want: linkage.ErrInvalidPercentage},
		{name: "sum above hundred", caller: creator, key: amazon, percentage: 41, preexisting: 60, want: linkage.ErrInvalidPercentage},
		{name: "sum exactly hundred", caller: creator, key: amazon, percentage: 40, preexisting: 60},
		{name: "full share", caller: creator, key: amazon, percentage: 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.create(amazon, 100)
			if tc.preexisting > 0 {
				if err := f.engine.SetRevenueShare(f.ctx, creator, amazon, partner2, tc.preexisting); err != nil {
					t.Fatalf("seed share: %v", err)
				}
			}
			err := f.engine.SetRevenueShare(f.ctx, tc.caller, tc.key, partner1, tc.percentage)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				share, ok, _ := f.engine.GetRevenueShare(amazon, partner1)
				if !ok || int64(share.Percentage) != tc.percentage {
					t.Fatalf("unexpected share: %+v", share)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if _, ok, _ := f.engine.GetRevenueShare(amazon, partner1); ok {
				t.Fatalf("rejected share was stored")
			}
		})
	}
}

func TestRevenueShareOverwriteKeepsReceived(t *testing.T) {
	f := newFixture(t)
	f.create(amazon, 1000)
	if err := f.engine.SetRevenueShare(f.ctx, creator, amazon, partner1, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Lowering an existing share does not count it twice.
	if err := f.engine.SetRevenueShare(f.ctx, creator, amazon, partner1, 100); err != nil {
		t.Fatalf("overwrite to 100: %v", err)
	}
	if err := f.engine.SetRevenueShare(f.ctx, creator, amazon, partner1, 10); err != nil {
		t.Fatalf("overwrite to 10: %v", err)
	}
	f.verify(amazon)
	if f.balance(partner1) != 100 || f.balance(owner) != 900 {
		t.Fatalf("unexpected payouts: partner=%d owner=%d", f.balance(partner1), f.balance(owner))
	}
	if err := f.engine.SetRevenueShare(f.ctx, creator, amazon, partner1, 50); err != nil {
		t.Fatalf("overwrite after release: %v", err)
	}
	share, _, _ := f.engine.GetRevenueShare(amazon, partner1)
	if share.Percentage != 50 || share.Received.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("overwrite lost received total: %+v", share)
	}
	shares, err := f.engine.ListRevenueShares(amazon)
	if err != nil || len(shares) != 1 {
		t.Fatalf("expected one share, got %d (%v)", len(shares), err)
	}
}

func TestUpdateMetadata(t *testing.T) {
	f := newFixture(t)
	f.create(amazon, 100)
	meta := &linkage.Metadata{Description: "updated", Tags: []string{"a", "b"}, Visible: false}
	if err := f.engine.UpdateMetadata(f.ctx, stranger, amazon, meta); !errors.Is(err, linkage.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	missing := linkage.Key{FlightID: "FL200", ProjectID: "PRJ-AMAZON"}
	if err := f.engine.UpdateMetadata(f.ctx, creator, missing, meta); !errors.Is(err, linkage.ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
	bad := []*linkage.Metadata{
		{Tags: []string{""}},
		{Tags: []string{strings.Repeat("t", linkage.MaxTagLength+1)}},
		{Description: strings.Repeat("d", linkage.MaxDescriptionLength+1)},
	}
	for _, m := range bad {
		if err := f.engine.UpdateMetadata(f.ctx, creator, amazon, m); !errors.Is(err, linkage.ErrInvalidMetadata) {
			t.Fatalf("expected ErrInvalidMetadata for %+v, got %v", m, err)
		}
	}
	if err := f.engine.UpdateMetadata(f.ctx, creator, amazon, meta); err != nil {
		t.Fatalf("update: %v", err)
	}
	meta.Tags[0] = "mutated"
	stored, _, _ := f.engine.GetMetadata(amazon)
	if stored.Description != "updated" || stored.Visible || len(stored.Tags) != 2 || stored.Tags[0] != "a" {
		t.Fatalf("unexpected metadata: %+v", stored)
	}
	// Metadata has no lifecycle coupling.
	if f.linkage(amazon).Status != linkage.StatusPending {
		t.Fatalf("metadata update changed status")
	}
}

func TestQueriesReturnCopies(t *testing.T) {
	f := newFixture(t)
	f.create(amazon, 100)
	l := f.linkage(amazon)
	l.EscrowAmount.SetInt64(1)
	l.Status = linkage.StatusRejected
	again := f.linkage(amazon)
	if again.EscrowAmount.Int64() != 100 || again.Status != linkage.StatusPending {
		t.Fatalf("query result aliased stored state: %+v", again)
	}
	if _, ok, err := f.engine.GetLinkage(linkage.Key{FlightID: "nope", ProjectID: "nope"}); ok || err != nil {
		t.Fatalf("expected absent linkage, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := f.engine.GetDispute(amazon); ok {
		t.Fatalf("unexpected dispute")
	}
}
