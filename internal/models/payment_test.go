package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newTestEscrow(total, fee string) *Escrow {
	t := decimal.RequireFromString(total)
	f := decimal.RequireFromString(fee)
	return &Escrow{
		TotalAmount:      t,
		PlatformFee:      f,
		FreelancerAmount: t.Sub(f),
		Status:           EscrowStatusFunded,
	}
}

func TestSplitEscrowAmount_FullRelease(t *testing.T) {
	escrow := newTestEscrow("350", "35")

	split := escrow.SplitEscrowAmount(escrow.TotalAmount)
	assert.True(t, split.GrossToFreelancer.Equal(decimal.RequireFromString("350")))
	assert.True(t, split.FeeShare.Equal(decimal.RequireFromString("35")))
	assert.True(t, split.NetToFreelancer.Equal(decimal.RequireFromString("315")))
	assert.True(t, split.RefundToClient.IsZero())
	assert.True(t, split.NetToFreelancer.Equal(escrow.FreelancerAmount))
}

func TestSplitEscrowAmount_FullRefund(t *testing.T) {
	escrow := newTestEscrow("350", "35")

	split := escrow.SplitEscrowAmount(decimal.Zero)
	assert.True(t, split.GrossToFreelancer.IsZero())
	assert.True(t, split.FeeShare.IsZero())
	assert.True(t, split.NetToFreelancer.IsZero())
	assert.True(t, split.RefundToClient.Equal(decimal.RequireFromString("350")))
}

func TestSplitEscrowAmount_PartialSplit(t *testing.T) {
	escrow := newTestEscrow("200", "20")

	// фрилансеру присуждена половина
	split := escrow.SplitEscrowAmount(decimal.RequireFromString("100"))
	assert.True(t, split.FeeShare.Equal(decimal.RequireFromString("10")))
	assert.True(t, split.NetToFreelancer.Equal(decimal.RequireFromString("90")))
	assert.True(t, split.RefundToClient.Equal(decimal.RequireFromString("100")))

	// сумма частей всегда равна сумме escrow
	total := split.NetToFreelancer.Add(split.FeeShare).Add(split.RefundToClient)
	assert.True(t, total.Equal(escrow.TotalAmount))
}

func TestSplitEscrowAmount_RoundsFee(t *testing.T) {
	escrow := newTestEscrow("100", "10")

	split := escrow.SplitEscrowAmount(decimal.RequireFromString("33.33"))
	// 10 * 33.33 / 100 = 3.333 -> 3.33
	assert.True(t, split.FeeShare.Equal(decimal.RequireFromString("3.33")))
	assert.True(t, split.NetToFreelancer.Equal(decimal.RequireFromString("30")))
}

func TestSplitEscrowAmount_ZeroTotal(t *testing.T) {
	escrow := newTestEscrow("0", "0")

	split := escrow.SplitEscrowAmount(decimal.Zero)
	assert.True(t, split.FeeShare.IsZero())
	assert.True(t, split.RefundToClient.IsZero())
}

func TestEscrowIsSettleable(t *testing.T) {
	escrow := &Escrow{Status: EscrowStatusFunded}
	assert.True(t, escrow.IsSettleable())

	escrow.Status = EscrowStatusDisputed
	assert.True(t, escrow.IsSettleable())

	for _, status := range []string{EscrowStatusPending, EscrowStatusReleased, EscrowStatusRefunded} {
		escrow.Status = status
		assert.False(t, escrow.IsSettleable(), "escrow в статусе %s", status)
	}
}

func TestEscrowIsEligibleForAutoRelease(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	escrow := &Escrow{Status: EscrowStatusFunded, AutoReleaseDate: &past}
	assert.True(t, escrow.IsEligibleForAutoRelease(now))

	escrow.AutoReleaseDate = &future
	assert.False(t, escrow.IsEligibleForAutoRelease(now))

	escrow.AutoReleaseDate = &past
	escrow.IsManualReleaseRequired = true
	assert.False(t, escrow.IsEligibleForAutoRelease(now))

	escrow.IsManualReleaseRequired = false
	escrow.Status = EscrowStatusDisputed
	assert.False(t, escrow.IsEligibleForAutoRelease(now))

	escrow.Status = EscrowStatusFunded
	escrow.AutoReleaseDate = nil
	assert.False(t, escrow.IsEligibleForAutoRelease(now))
}

func TestWalletBalanceChecks(t *testing.T) {
	wallet := &Wallet{
		Balance:       decimal.RequireFromString("100"),
		FrozenBalance: decimal.RequireFromString("50"),
	}

	assert.True(t, wallet.HasSufficientBalance(decimal.RequireFromString("100")))
	assert.False(t, wallet.HasSufficientBalance(decimal.RequireFromString("100.01")))
	assert.True(t, wallet.HasSufficientFrozen(decimal.RequireFromString("50")))
	assert.False(t, wallet.HasSufficientFrozen(decimal.RequireFromString("51")))
}

func TestIsTerminalTransactionStatus(t *testing.T) {
	assert.True(t, IsTerminalTransactionStatus(TransactionStatusCompleted))
	assert.True(t, IsTerminalTransactionStatus(TransactionStatusFailed))
	assert.True(t, IsTerminalTransactionStatus(TransactionStatusReversed))
	assert.False(t, IsTerminalTransactionStatus(TransactionStatusPending))
	assert.False(t, IsTerminalTransactionStatus(TransactionStatusProcessing))
}
