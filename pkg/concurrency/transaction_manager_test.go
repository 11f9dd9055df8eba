package concurrency_test

import (
	"testing"

	"heapdb/pkg/concurrency"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTransactionManager(t *testing.T) {
	t.Run("BeginEnd", testBeginEnd)
	t.Run("OnePerClient", testOnePerClient)
	t.Run("Running", testRunning)
}

func testBeginEnd(t *testing.T) {
	tm := concurrency.NewTransactionManager()
	client := uuid.New()
	_, found := tm.GetTransaction(client)
	require.False(t, found)

	tx, err := tm.Begin(client)
	require.NoError(t, err)
	require.Equal(t, client, tx.ID())
	got, found := tm.GetTransaction(client)
	require.True(t, found)
	require.Same(t, tx, got)

	ended, err := tm.End(client)
	require.NoError(t, err)
	require.Same(t, tx, ended)
	_, err = tm.End(client)
	require.ErrorIs(t, err, concurrency.ErrNoSuchTransaction)
}

func testOnePerClient(t *testing.T) {
	tm := concurrency.NewTransactionManager()
	client := uuid.New()
	_, err := tm.Begin(client)
	require.NoError(t, err)
	_, err = tm.Begin(client)
	require.ErrorIs(t, err, concurrency.ErrTransactionExists)

	_, err = tm.Begin(uuid.New())
	require.NoError(t, err)
	require.Len(t, tm.Running(), 2)
}

func testRunning(t *testing.T) {
	tm := concurrency.NewTransactionManager()
	require.Empty(t, tm.Running())
	a, b := uuid.New(), uuid.New()
	_, err := tm.Begin(a)
	require.NoError(t, err)
	_, err = tm.Begin(b)
	require.NoError(t, err)
	_, err = tm.End(a)
	require.NoError(t, err)

	running := tm.Running()
	require.Len(t, running, 1)
	require.Equal(t, b, running[0].ID())
}
