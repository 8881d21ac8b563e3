package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAppender struct {
	calls []struct {
		txID   uint64
		deltas []StateDelta
	}
}

func (f *fakeAppender) AppendToLog(txID uint64, deltas []StateDelta) error {
	f.calls = append(f.calls, struct {
		txID   uint64
		deltas []StateDelta
	}{txID, deltas})
	return nil
}

func TestLogEntryBufferDisabledIsNoOp(t *testing.T) {
	appender := &fakeAppender{}
	buf := NewLogEntryBuffer(appender)
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionBegin, TxID: 1}))
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionCommit, TxID: 1}))
	assert.Empty(t, appender.calls)
	assert.Equal(t, 0, buf.pendingCount())
}

func TestLogEntryBufferCommitAppendsThenDrops(t *testing.T) {
	appender := &fakeAppender{}
	buf := NewLogEntryBuffer(appender)
	buf.Enable()

	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionBegin, TxID: 10}))
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaData, TxID: 10, Payload: []byte("SET(v=1)")}))
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionCommit, TxID: 10}))

	require.Len(t, appender.calls, 1)
	assert.Equal(t, uint64(10), appender.calls[0].txID)
	require.Len(t, appender.calls[0].deltas, 3)
	assert.Equal(t, DeltaTransactionCommit, appender.calls[0].deltas[2].Kind)
	assert.Equal(t, 0, buf.pendingCount())
}

func TestLogEntryBufferAbortDropsWithoutAppend(t *testing.T) {
	appender := &fakeAppender{}
	buf := NewLogEntryBuffer(appender)
	buf.Enable()

	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionBegin, TxID: 42}))
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaData, TxID: 42}))
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaData, TxID: 42}))
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionAbort, TxID: 42}))

	assert.Empty(t, appender.calls)
	assert.Equal(t, 0, buf.pendingCount())
}

func TestLogEntryBufferDisableClearsPending(t *testing.T) {
	appender := &fakeAppender{}
	buf := NewLogEntryBuffer(appender)
	buf.Enable()
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionBegin, TxID: 1}))
	assert.Equal(t, 1, buf.pendingCount())

	buf.Disable()
	assert.Equal(t, 0, buf.pendingCount())
	assert.False(t, buf.Enabled())

	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionCommit, TxID: 1}))
	assert.Empty(t, appender.calls)
}

func TestLogEntryBufferTracksMultipleTransactionsIndependently(t *testing.T) {
	appender := &fakeAppender{}
	buf := NewLogEntryBuffer(appender)
	buf.Enable()

	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionBegin, TxID: 1}))
	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionBegin, TxID: 2}))
	assert.Equal(t, 2, buf.pendingCount())

	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionAbort, TxID: 1}))
	assert.Equal(t, 1, buf.pendingCount())

	require.NoError(t, buf.Emplace(StateDelta{Kind: DeltaTransactionCommit, TxID: 2}))
	assert.Equal(t, 0, buf.pendingCount())
	require.Len(t, appender.calls, 1)
	assert.Equal(t, uint64(2), appender.calls[0].txID)
}
