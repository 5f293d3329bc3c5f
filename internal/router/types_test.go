package router

import (
	"context"
	"testing"
	"time"
)

func TestDefaultGenerateParameters(t *testing.T) {
	p := DefaultGenerateParameters()
	if p.BestOf != 1 {
		t.Errorf("BestOf = %d, want 1", p.BestOf)
	}
	if p.Temperature != 1.0 {
		t.Errorf("Temperature = %v, want 1.0", p.Temperature)
	}
	if p.DoSample {
		t.Error("DoSample should default false")
	}
}

func TestFinishReasonString(t *testing.T) {
	cases := map[FinishReason]string{
		FinishLength:             "length",
		FinishEndOfSequenceToken: "eos_token",
		FinishStopSequence:       "stop_sequence",
		FinishReason(99):         "unknown",
	}
	for reason, want := range cases {
		if got := reason.String(); got != want {
			t.Errorf("FinishReason(%d).String() = %q, want %q", reason, got, want)
		}
	}
}

func TestEntryCancelledFollowsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEntry(ctx, &ValidRequest{ID: 1})
	if e.Cancelled() {
		t.Fatal("entry should not be cancelled before context cancellation")
	}
	cancel()
	if !e.Cancelled() {
		t.Fatal("entry should be cancelled once its context is done")
	}
}

func TestEntrySendAfterCancelReturnsFalse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEntry(ctx, &ValidRequest{ID: 1})
	cancel()
	if e.Send(&StreamItem{Kind: StreamEnd}) {
		t.Fatal("Send should report false once the entry's context is cancelled")
	}
}

func TestEntrySendAfterCloseReturnsFalse(t *testing.T) {
	e := NewEntry(context.Background(), &ValidRequest{ID: 1})
	if !e.Send(&StreamItem{Kind: StreamPrefill}) {
		t.Fatal("Send should succeed before the entry is closed")
	}
	e.Close()
	if e.Send(&StreamItem{Kind: StreamEnd}) {
		t.Fatal("Send should report false after Close")
	}
}

func TestEntryCloseIsIdempotent(t *testing.T) {
	e := NewEntry(context.Background(), &ValidRequest{ID: 1})
	e.Close()
	e.Close()
}

func TestBatchMaxTokens(t *testing.T) {
	b := &Batch{Entries: []*Entry{
		{Request: &ValidRequest{InputLength: 10, StoppingParameters: StoppingCriteria{MaxNewTokens: 5}}},
		{Request: &ValidRequest{InputLength: 20, StoppingParameters: StoppingCriteria{MaxNewTokens: 15}}},
	}}
	if got, want := b.MaxTokens(), uint64(50); got != want {
		t.Errorf("MaxTokens() = %d, want %d", got, want)
	}
}

func TestBatchRemainingMaxTokens(t *testing.T) {
	b := &Batch{Entries: []*Entry{
		{Request: &ValidRequest{InputLength: 10, StoppingParameters: StoppingCriteria{MaxNewTokens: 5}}, GeneratedTokens: 2},
		{Request: &ValidRequest{InputLength: 20, StoppingParameters: StoppingCriteria{MaxNewTokens: 15}}, GeneratedTokens: 15},
	}}
	// first entry: 10 + (5-2) = 13; second entry: already exhausted its
	// budget so its remaining contribution is just its input length, 20.
	if got, want := b.RemainingMaxTokens(), uint64(33); got != want {
		t.Errorf("RemainingMaxTokens() = %d, want %d", got, want)
	}
}

func TestBatchRequestIDsAndLen(t *testing.T) {
	b := &Batch{Entries: []*Entry{
		{Request: &ValidRequest{ID: 1}},
		{Request: &ValidRequest{ID: 2}},
		{Request: &ValidRequest{ID: 3}},
	}}
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}
	ids := b.RequestIDs()
	for i, want := range []uint64{1, 2, 3} {
		if ids[i] != want {
			t.Errorf("RequestIDs()[%d] = %d, want %d", i, ids[i], want)
		}
	}
}

func TestNewEntrySetsQueueTime(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := nowFunc
	nowFunc = func() time.Time { return fixed }
	defer func() { nowFunc = orig }()

	e := NewEntry(context.Background(), &ValidRequest{ID: 1})
	if !e.QueueTime.Equal(fixed) {
		t.Errorf("QueueTime = %v, want %v", e.QueueTime, fixed)
	}
}
