// Package wallet keeps per-(client, asset) balances and turns batches of
// proposed deltas into a validated, atomically-applied balance change.
package wallet

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AssetBalance is the owned/earmarked pair for one client and asset.
// Available = Balance - Reserved and must never go negative after a
// committed operation.
type AssetBalance struct {
	ClientID string
	AssetID  string
	Balance  decimal.Decimal
	Reserved decimal.Decimal
}

func (b AssetBalance) Available() decimal.Decimal {
	return b.Balance.Sub(b.Reserved)
}

// Operation is the unit exchanged between matching/cancel logic and the
// balances layer: a balance delta and a reserved delta for one client/asset.
type Operation struct {
	ClientID       string
	AssetID        string
	Amount         decimal.Decimal
	ReservedAmount decimal.Decimal
}

// BalanceUpdate reports one committed balance change for downstream
// notification.
type BalanceUpdate struct {
	ClientID    string
	AssetID     string
	OldBalance  decimal.Decimal
	NewBalance  decimal.Decimal
	OldReserved decimal.Decimal
	NewReserved decimal.Decimal
}

// BalanceError reports a staged batch that would violate the balance
// invariants. Nothing is applied when it is returned.
type BalanceError struct {
	ClientID    string
	AssetID     string
	OldBalance  decimal.Decimal
	OldReserved decimal.Decimal
	NewBalance  decimal.Decimal
	NewReserved decimal.Decimal
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("invalid balance (client=%s, asset=%s, oldBalance=%s, oldReserved=%s, newBalance=%s, newReserved=%s)",
		e.ClientID, e.AssetID, e.OldBalance, e.OldReserved, e.NewBalance, e.NewReserved)
}

// validateBalanceChange enforces the invariants on one staged change.
// A balance may already be negative (historic overdraft); in that case only
// a worsening of the balance/reserved gap is rejected.
func validateBalanceChange(clientID, assetID string, oldBalance, oldReserved, newBalance, newReserved decimal.Decimal) error {
	fail := func() error {
		return &BalanceError{
			ClientID:    clientID,
			AssetID:     assetID,
			OldBalance:  oldBalance,
			OldReserved: oldReserved,
			NewBalance:  newBalance,
			NewReserved: newReserved,
		}
	}
	if newBalance.Sign() < 0 &&
		!(oldBalance.Sign() < 0 &&
			(oldBalance.Cmp(newBalance) >= 0 || oldReserved.Add(newBalance).Cmp(newReserved.Add(oldBalance)) >= 0)) {
		return fail()
	}
	if newReserved.Sign() < 0 && oldReserved.Cmp(newReserved) > 0 {
		return fail()
	}
	if newBalance.Cmp(newReserved) < 0 && oldReserved.Add(newBalance).Cmp(newReserved.Add(oldBalance)) < 0 {
		return fail()
	}
	return nil
}
