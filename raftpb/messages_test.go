package raftpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestStateDeltaRoundTrip(t *testing.T) {
	want := &StateDelta{Kind: DeltaTransactionCommit, TxID: 42, Payload: []byte("set v=1")}
	got := &StateDelta{}
	require.NoError(t, got.Unmarshal(want.Marshal()))
	assert.Equal(t, want, got)
}

func TestStateDeltaRoundTripEmptyPayload(t *testing.T) {
	want := &StateDelta{Kind: DeltaTransactionBegin, TxID: 7}
	got := &StateDelta{}
	require.NoError(t, got.Unmarshal(want.Marshal()))
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.TxID, got.TxID)
	assert.Empty(t, got.Payload)
}

func TestLogEntryRoundTrip(t *testing.T) {
	want := &LogEntry{
		Term: 3,
		Deltas: []*StateDelta{
			{Kind: DeltaTransactionBegin, TxID: 10},
			{Kind: DeltaData, TxID: 10, Payload: []byte("SET(v=1)")},
			{Kind: DeltaTransactionCommit, TxID: 10},
		},
	}
	got := &LogEntry{}
	require.NoError(t, got.Unmarshal(want.Marshal()))
	assert.Equal(t, want, got)
}

func TestAppendEntriesRequestRoundTrip(t *testing.T) {
	want := &AppendEntriesRequest{
		Term:         5,
		LeaderID:     1,
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries: []*LogEntry{
			{Term: 5, Deltas: nil},
		},
		LeaderCommit: 1,
	}
	got := &AppendEntriesRequest{}
	require.NoError(t, got.Unmarshal(want.Marshal()))
	assert.Equal(t, want, got)
}

func TestAppendEntriesResponseRoundTrip(t *testing.T) {
	want := &AppendEntriesResponse{Term: 7, Success: false}
	got := &AppendEntriesResponse{}
	require.NoError(t, got.Unmarshal(want.Marshal()))
	assert.Equal(t, want, got)
}

func TestRequestVoteRoundTrip(t *testing.T) {
	want := &RequestVoteRequest{Term: 2, CandidateID: 3, LastLogIndex: 4, LastLogTerm: 1}
	got := &RequestVoteRequest{}
	require.NoError(t, got.Unmarshal(want.Marshal()))
	assert.Equal(t, want, got)

	wantResp := &RequestVoteResponse{Term: 2, VoteGranted: true}
	gotResp := &RequestVoteResponse{}
	require.NoError(t, gotResp.Unmarshal(wantResp.Marshal()))
	assert.Equal(t, wantResp, gotResp)
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	d := &StateDelta{Kind: DeltaData, TxID: 1}
	b := d.Marshal()
	// field 9 is not part of StateDelta, so Unmarshal must skip it through
	// ConsumeFieldValue on the default branch and keep the known fields.
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 5)
	got := &StateDelta{}
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, DeltaData, got.Kind)
	assert.Equal(t, uint64(1), got.TxID)
}
