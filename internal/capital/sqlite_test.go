package capital

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteService_BalanceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capital.db")

	s, err := NewSQLiteService(path, 100000)
	require.NoError(t, err)

	require.NoError(t, s.Deposit(10000, "top-up"))
	require.NoError(t, s.RecordTradePnL(-2500, "ord-1"))
	require.NoError(t, s.Close())

	// Reopen; the initial amount must not be written again.
	s, err = NewSQLiteService(path, 100000)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 107500, snap.Total, 1e-9)

	entries, err := s.History(10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSQLiteService_DeployedResetsWithProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capital.db")

	s, err := NewSQLiteService(path, 100000)
	require.NoError(t, err)
	require.NoError(t, s.Deploy(30000))

	snap, _ := s.Snapshot()
	assert.InDelta(t, 70000, snap.Available, 1e-9)
	require.NoError(t, s.Close())

	// Deployed margin is in-memory only.
	s, err = NewSQLiteService(path, 0)
	require.NoError(t, err)
	defer s.Close()

	snap, _ = s.Snapshot()
	assert.InDelta(t, 100000, snap.Total, 1e-9)
	assert.InDelta(t, 0, snap.Deployed, 1e-9)
}

func TestSQLiteService_WithdrawGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capital.db")

	s, err := NewSQLiteService(path, 50000)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Deploy(40000))
	assert.Error(t, s.Withdraw(20000, "locked behind margin"))
	require.NoError(t, s.Withdraw(10000, "free balance"))

	snap, _ := s.Snapshot()
	assert.InDelta(t, 40000, snap.Total, 1e-9)
	assert.InDelta(t, 0, snap.Available, 1e-9)
}