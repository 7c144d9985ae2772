package conflict

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/ruralpay/tourwallet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func spend(id string, seq uint64, amount int64) *models.Transaction {
	return &models.Transaction{
		ID:             id,
		AccountID:      "acc-1",
		Kind:           models.KindSpend,
		Amount:         amount,
		ClientSequence: seq,
		ReceivedAt:     received,
		Status:         models.StatusQueued,
	}
}

func tags(b models.ConflictBatch) map[string]models.ResolutionTag {
	out := make(map[string]models.ResolutionTag, len(b.Items))
	for _, item := range b.Items {
		out[item.Transaction.ID] = item.Tag
	}
	return out
}

func TestResolver_ExampleScenarios(t *testing.T) {
	r := NewResolver(Policy{OfflineLimitMode: PerTransaction, CountTowardDaily: true})
	batch := models.ConflictBatch{AccountID: "acc-1", Transactions: []*models.Transaction{spend("t1", 1, 300), spend("t2", 2, 300)}}

	t.Run("funded account applies both", func(t *testing.T) {
		out := r.Resolve(batch, Snapshot{Balance: 1000, DailyLimit: 5000, OfflineLimit: 500}, nil)

		assert.True(t, out.Resolved)
		assert.Empty(t, out.Violations)
		assert.Equal(t, map[string]models.ResolutionTag{"t1": models.TagApply, "t2": models.TagApply}, tags(out))
	})

	t.Run("empty account holds both", func(t *testing.T) {
		out := r.Resolve(batch, Snapshot{Balance: 0, DailyLimit: 5000, OfflineLimit: 500}, nil)

		require.Len(t, out.Violations, 2)
		for _, item := range out.Items {
			assert.Equal(t, models.TagViolation, item.Tag)
			assert.Equal(t, models.ReasonWouldOverdraw, item.Reason)
		}
	})
}

func TestResolver_ConflictIsolation(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		snap   Snapshot
		batch  []*models.Transaction
		reason string
	}{
		{
			name:   "overdraw in the middle",
			policy: Policy{OfflineLimitMode: PerTransaction},
			snap:   Snapshot{Balance: 500, OfflineLimit: 1000},
			batch:  []*models.Transaction{spend("t1", 1, 200), spend("t2", 2, 400), spend("t3", 3, 250)},
			reason: models.ReasonWouldOverdraw,
		},
		{
			name:   "cumulative offline cap",
			policy: Policy{OfflineLimitMode: Cumulative},
			snap:   Snapshot{Balance: 10000, OfflineLimit: 500},
			batch:  []*models.Transaction{spend("t1", 1, 200), spend("t2", 2, 400), spend("t3", 3, 250)},
			reason: models.ReasonOfflineLimit,
		},
		{
			name:   "single spend over per-transaction cap",
			policy: Policy{OfflineLimitMode: PerTransaction},
			snap:   Snapshot{Balance: 10000, OfflineLimit: 500},
			batch:  []*models.Transaction{spend("t1", 1, 200), spend("t2", 2, 600), spend("t3", 3, 250)},
			reason: models.ReasonOfflineLimit,
		},
		{
			name:   "daily limit when offline counts toward it",
			policy: Policy{OfflineLimitMode: PerTransaction, CountTowardDaily: true},
			snap:   Snapshot{Balance: 10000, SpentToday: 600, DailyLimit: 1000, OfflineLimit: 500},
			batch:  []*models.Transaction{spend("t1", 1, 200), spend("t2", 2, 300), spend("t3", 3, 150)},
			reason: models.ReasonDailyLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewResolver(tt.policy).Resolve(models.ConflictBatch{AccountID: "acc-1", Transactions: tt.batch}, tt.snap, nil)

			require.Len(t, out.Items, 3)
			assert.Equal(t, models.TagApply, out.Items[0].Tag)
			assert.Equal(t, models.TagViolation, out.Items[1].Tag)
			assert.Equal(t, tt.reason, out.Items[1].Reason)
			assert.Equal(t, models.TagApply, out.Items[2].Tag)
			require.Len(t, out.Violations, 1)
			assert.Equal(t, "t2", out.Violations[0].ID)
		})
	}
}

func TestResolver_DailyLimitIgnoredWhenOfflineExempt(t *testing.T) {
	r := NewResolver(Policy{OfflineLimitMode: PerTransaction, CountTowardDaily: false})
	out := r.Resolve(
		models.ConflictBatch{Transactions: []*models.Transaction{spend("t1", 1, 400), spend("t2", 2, 400)}},
		Snapshot{Balance: 10000, SpentToday: 900, DailyLimit: 1000, OfflineLimit: 500},
		nil,
	)
	assert.Empty(t, out.Violations)
}

func TestResolver_Deterministic(t *testing.T) {
	r := NewResolver(Policy{OfflineLimitMode: Cumulative, CountTowardDaily: true})
	snap := Snapshot{Balance: 900, SpentToday: 100, DailyLimit: 1200, OfflineLimit: 700}

	build := func() []*models.Transaction {
		return []*models.Transaction{
			spend("a", 1, 300),
			spend("b", 1, 200), // same sequence from another terminal
			spend("c", 2, 250),
			spend("d", 3, 100),
			spend("e", 3, 400),
			spend("f", 4, 50),
		}
	}

	want := r.Resolve(models.ConflictBatch{AccountID: "acc-1", Transactions: build()}, snap, nil)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		in := build()
		rng.Shuffle(len(in), func(a, b int) { in[a], in[b] = in[b], in[a] })

		got := r.Resolve(models.ConflictBatch{AccountID: "acc-1", Transactions: in}, snap, nil)
		require.Len(t, got.Items, len(want.Items))
		for j := range want.Items {
			assert.Equal(t, want.Items[j].Transaction.ID, got.Items[j].Transaction.ID)
			assert.Equal(t, want.Items[j].Tag, got.Items[j].Tag)
			assert.Equal(t, want.Items[j].Reason, got.Items[j].Reason)
		}
	}
}

func TestResolver_DuplicateIDs(t *testing.T) {
	r := NewResolver(Policy{})

	t.Run("exact replay collapses", func(t *testing.T) {
		out := r.Resolve(
			models.ConflictBatch{Transactions: []*models.Transaction{spend("t1", 1, 100), spend("t1", 1, 100), spend("t2", 2, 100)}},
			Snapshot{Balance: 1000},
			nil,
		)
		assert.Len(t, out.Items, 2)
		assert.Len(t, out.Transactions, 2)
		assert.Empty(t, out.Rejected)
	})

	t.Run("different content under one id is rejected", func(t *testing.T) {
		out := r.Resolve(
			models.ConflictBatch{Transactions: []*models.Transaction{spend("t1", 1, 100), spend("t1", 2, 900), spend("t2", 3, 100)}},
			Snapshot{Balance: 1000},
			nil,
		)
		require.Len(t, out.Items, 3)
		assert.Equal(t, models.TagReject, out.Items[0].Tag)
		assert.Equal(t, models.ReasonDuplicateInBatch, out.Items[0].Reason)
		assert.Equal(t, int64(900), out.Items[0].Transaction.Amount)
		assert.Equal(t, models.TagApply, out.Items[1].Tag)
		assert.Equal(t, int64(100), out.Items[1].Transaction.Amount)
		assert.Equal(t, models.TagApply, out.Items[2].Tag)
		require.Len(t, out.Rejected, 1)
	})
}

func TestResolver_UnverifiedItemsStayOutOfProjection(t *testing.T) {
	r := NewResolver(Policy{OfflineLimitMode: Cumulative})
	forged := errors.New("signature mismatch")
	verify := func(tx *models.Transaction) error {
		if tx.ID == "t1" {
			return forged
		}
		return nil
	}

	out := r.Resolve(
		models.ConflictBatch{Transactions: []*models.Transaction{spend("t1", 1, 450), spend("t2", 2, 200)}},
		Snapshot{Balance: 500, OfflineLimit: 600},
		verify,
	)

	require.Len(t, out.Items, 2)
	assert.Equal(t, "t1", out.Items[0].Transaction.ID)
	assert.Equal(t, models.TagReject, out.Items[0].Tag)
	assert.Equal(t, models.ReasonSignatureMismatch, out.Items[0].Reason)
	assert.Equal(t, "t2", out.Items[1].Transaction.ID)
	assert.Equal(t, models.TagApply, out.Items[1].Tag)
	assert.Empty(t, out.Violations)

	t.Run("limit breach with a bad signature is rejected, not held", func(t *testing.T) {
		out := r.Resolve(
			models.ConflictBatch{Transactions: []*models.Transaction{spend("t1", 1, 5000)}},
			Snapshot{Balance: 100, OfflineLimit: 600},
			verify,
		)
		require.Len(t, out.Items, 1)
		assert.Equal(t, models.TagReject, out.Items[0].Tag)
		assert.Empty(t, out.Violations)
	})
}

func TestResolver_OfflineAppliedCountsTowardCumulativeCap(t *testing.T) {
	r := NewResolver(Policy{OfflineLimitMode: Cumulative})
	out := r.Resolve(
		models.ConflictBatch{Transactions: []*models.Transaction{spend("t3", 3, 200)}},
		Snapshot{Balance: 10000, OfflineLimit: 500, OfflineApplied: 400},
		nil,
	)
	require.Len(t, out.Items, 1)
	assert.Equal(t, models.ReasonOfflineLimit, out.Items[0].Reason)
}

func TestResolver_DoesNotReorderInput(t *testing.T) {
	in := []*models.Transaction{spend("t2", 2, 100), spend("t1", 1, 100)}
	NewResolver(Policy{}).Resolve(models.ConflictBatch{Transactions: in}, Snapshot{Balance: 1000}, nil)
	assert.Equal(t, "t2", in[0].ID)
}

func TestParseOfflineLimitMode(t *testing.T) {
	mode, err := ParseOfflineLimitMode("")
	require.NoError(t, err)
	assert.Equal(t, PerTransaction, mode)

	mode, err = ParseOfflineLimitMode("Cumulative")
	require.NoError(t, err)
	assert.Equal(t, Cumulative, mode)

	_, err = ParseOfflineLimitMode("sometimes")
	assert.Error(t, err)
}
