// Package ledger holds the pure money math for task escrow. Every function
// is deterministic and side-effect free so amounts can be recomputed during
// replay or audit. Rounding always favors the platform: commission rounds
// up, refunds and per-activation splits round down.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/taskpool/taskpool/internal/domain"
)

// CostBreakdown is the full price of funding a task. Only RewardsCost enters
// the refundable escrow; commission and promotion fee are platform revenue
// booked at creation.
type CostBreakdown struct {
	RewardsCost   decimal.Decimal
	Commission    decimal.Decimal
	PromotionCost decimal.Decimal
	Total         decimal.Decimal
}

// ComputeTaskCost prices a task: reward × count, plus commission rounded up,
// plus the optional promotion fee.
func ComputeTaskCost(reward decimal.Decimal, totalExecutions int, commissionRate decimal.Decimal, promote bool, promotionFee decimal.Decimal) CostBreakdown {
	rewardsCost := reward.Mul(decimal.NewFromInt(int64(totalExecutions)))
	commission := rewardsCost.Mul(commissionRate).Ceil()

	promotionCost := decimal.Zero
	if promote {
		promotionCost = promotionFee
	}

	return CostBreakdown{
		RewardsCost:   rewardsCost,
		Commission:    commission,
		PromotionCost: promotionCost,
		Total:         rewardsCost.Add(commission).Add(promotionCost),
	}
}

// CancellationSplit divides currently frozen escrow between the author's
// refund and the cancellation fee.
type CancellationSplit struct {
	Refund decimal.Decimal
	Fee    decimal.Decimal
}

// ComputeCancellationRefund applies the flat cancellation fee to the unspent
// escrow. feeRate is the platform cut (0.10 = 10%); refund and fee always sum
// back to frozen exactly.
func ComputeCancellationRefund(frozen decimal.Decimal, feeRate decimal.Decimal) CancellationSplit {
	refund := frozen.Mul(decimal.NewFromInt(1).Sub(feeRate)).Floor()
	return CancellationSplit{
		Refund: refund,
		Fee:    frozen.Sub(refund),
	}
}

// ComputePerActivationAmount splits a total across activations, rounding
// down. Configurations that floor below minUnit are rejected.
func ComputePerActivationAmount(total decimal.Decimal, activations int, minUnit decimal.Decimal) (decimal.Decimal, error) {
	if activations <= 0 {
		return decimal.Zero, domain.Validationf("activations", "must be positive, got %d", activations)
	}
	per := total.Div(decimal.NewFromInt(int64(activations))).Floor()
	if per.LessThan(minUnit) {
		return decimal.Zero, domain.Validationf("amount", "per-activation amount %s is below the minimum unit %s", per, minUnit)
	}
	return per, nil
}

// SnapshotReward fixes the payout for an execution at submission time by
// applying the user's earn multiplier once.
func SnapshotReward(reward decimal.Decimal, earnMultiplier decimal.Decimal) decimal.Decimal {
	if earnMultiplier.IsZero() {
		return reward
	}
	return reward.Mul(earnMultiplier).Floor()
}
