package pending

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-backend/checkin"
)

func TestStore_SaveLoadDelete(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	p, err := s.LoadPending(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Nil(t, p)

	want := checkin.PendingMint{
		UserID:        "u1",
		EventID:       "e1",
		WalletAddress: "0x1111111111111111111111111111111111111111",
		TxRef:         "0xabc",
		TokenID:       "9",
		Token:         &checkin.Token{TokenID: "9", EventID: "e1"},
		UpdatedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SavePending(ctx, want))

	got, err := s.LoadPending(ctx, "u1", "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
	got.UpdatedAt = want.UpdatedAt
	assert.Equal(t, want, *got)

	other, err := s.LoadPending(ctx, "u1", "e2")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, s.DeletePending(ctx, "u1", "e1"))
	got, err = s.LoadPending(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// deleting a missing key is not an error
	assert.NoError(t, s.DeletePending(ctx, "u1", "e1"))
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.SavePending(ctx, checkin.PendingMint{UserID: "u1", EventID: "e1", TxRef: "0xabc"}))
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadPending(ctx, "u1", "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0xabc", got.TxRef)
}

func TestStore_List(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SavePending(ctx, checkin.PendingMint{UserID: "u1", EventID: "b", TxRef: "0x2"}))
	require.NoError(t, s.SavePending(ctx, checkin.PendingMint{UserID: "u1", EventID: "a", TxRef: "0x1"}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].EventID)
	assert.Equal(t, "b", all[1].EventID)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}
