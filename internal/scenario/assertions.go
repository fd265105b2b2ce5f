package scenario

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/ledger"
)

func check(ctx context.Context, e *env, a Assertion) error {
	switch a.Type {
	case AssertRegistryOwner:
		asset, err := e.store.GetAsset(ctx, a.Asset)
		if err != nil {
			return err
		}
		if asset.Owner.UUID != a.Owner {
			return fmt.Errorf("registry owner of %s is %s, want %s", a.Asset, asset.Owner.UUID, a.Owner)
		}

	case AssertLedgerOwner:
		data, err := e.gateway.ReadAsset(ctx, a.Asset)
		if err != nil {
			return err
		}
		f, err := ledger.DecodeFacts(data)
		if err != nil {
			return fmt.Errorf("ledger record %s: %w", a.Asset, err)
		}
		if f.OwnerUUID != a.Owner {
			return fmt.Errorf("ledger owner of %s is %s, want %s", a.Asset, f.OwnerUUID, a.Owner)
		}

	case AssertLedgerMissing:
		exists, err := e.gateway.AssetExists(ctx, a.Asset)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("ledger still holds %s", a.Asset)
		}

	case AssertPastOwners:
		asset, err := e.store.GetAsset(ctx, a.Asset)
		if err != nil {
			return err
		}
		got := make([]string, len(asset.PastOwners))
		for i, p := range asset.PastOwners {
			got[i] = p.UUID
		}
		if !slices.Equal(got, a.Owners) {
			return fmt.Errorf("past owners of %s are %v, want %v", a.Asset, got, a.Owners)
		}

	case AssertTransferStatus:
		t, err := e.store.GetTransfer(ctx, a.Deal)
		if err != nil {
			if apperr.IsNotFound(err) && a.Status == "none" {
				return nil
			}
			return err
		}
		if string(t.Status) != a.Status {
			return fmt.Errorf("transfer %s is %s, want %s", a.Deal, t.Status, a.Status)
		}

	case AssertPaidAmount:
		want, err := decimal.NewFromString(a.Amount)
		if err != nil {
			return fmt.Errorf("amount %q: %w", a.Amount, err)
		}
		d, err := e.store.GetDeal(ctx, a.Deal)
		if err != nil {
			return err
		}
		if !d.PaidAmount.Equal(want) {
			return fmt.Errorf("deal %s paid %s, want %s", a.Deal, d.PaidAmount, want)
		}

	case AssertLedgerHeight:
		h, err := e.gateway.Height()
		if err != nil {
			return err
		}
		if h != *a.Height {
			return fmt.Errorf("ledger height is %d, want %d", h, *a.Height)
		}

	case AssertPeersAgree:
		hashes, err := e.gateway.StateHashes()
		if err != nil {
			return err
		}
		var first string
		for peer, h := range hashes {
			if first == "" {
				first = h
				continue
			}
			if h != first {
				return fmt.Errorf("peer %s disagrees: %v", peer, hashes)
			}
		}
	}
	return nil
}
