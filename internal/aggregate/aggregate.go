// Package aggregate reduces position snapshots into account-level totals.
package aggregate

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/minerstake/internal/models"
	"github.com/Fantasim/minerstake/internal/position"
)

// Compute sums pending rewards over staked positions and total claimed over
// all positions, counting staked positions as active. Fields that have not
// resolved are left out. The result is exact and does not depend on order.
func Compute(positions []models.Position) models.Aggregate {
	agg := models.Aggregate{
		TotalPending: new(big.Int),
		TotalClaimed: new(big.Int),
	}

	for _, p := range positions {
		if p.IsStaked {
			agg.ActiveCount++
			if p.Has(models.KnownPending) && p.PendingReward != nil {
				agg.TotalPending.Add(agg.TotalPending, p.PendingReward)
			}
		}
		if p.Has(models.KnownClaimed) && p.TotalClaimed != nil {
			agg.TotalClaimed.Add(agg.TotalClaimed, p.TotalClaimed)
		}
	}

	return agg
}

// Clone returns a deep copy of agg.
func Clone(agg models.Aggregate) models.Aggregate {
	out := agg
	if agg.TotalPending != nil {
		out.TotalPending = new(big.Int).Set(agg.TotalPending)
	}
	if agg.TotalClaimed != nil {
		out.TotalClaimed = new(big.Int).Set(agg.TotalClaimed)
	}
	return out
}

// Memo caches the aggregate of the most recent snapshot.
type Memo struct {
	mu      sync.Mutex
	account common.Address
	version uint64
	valid   bool
	agg     models.Aggregate
}

// Get returns the aggregate for snap, recomputing only when snap differs from
// the last one seen. A nil snapshot aggregates to zero.
func (m *Memo) Get(snap *position.Snapshot) models.Aggregate {
	if snap == nil {
		return Compute(nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.valid || m.version != snap.Version || m.account != snap.Account {
		m.agg = Compute(snap.Positions())
		m.account = snap.Account
		m.version = snap.Version
		m.valid = true
	}
	return Clone(m.agg)
}

// FormatUnits renders a smallest-unit amount as a decimal string with the
// given number of decimals, trimming trailing zeros.
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseUnits converts a decimal string into smallest units. Inputs with more
// fractional digits than decimals are rejected.
func ParseUnits(s string, decimals int32) (*big.Int, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, false
	}
	return scaled.BigInt(), true
}
