package pipeline_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/voxloom/internal/pipeline"
)

// chunk builds an AudioChunk with n bytes of recognisable content.
func chunk(fill byte, n int) pipeline.AudioChunk {
	data := make([]byte, n)
	for i := range data {
		data[i] = fill
	}
	return pipeline.AudioChunk{Data: data, SampleRate: 16000, Channels: 1}
}

func TestAccept_ThresholdFlushConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	b := pipeline.NewUtteranceBuffer(pipeline.WithFlushThreshold(100))

	var want []byte
	var flushed *pipeline.Utterance
	for i, n := range []int{40, 40, 40} {
		c := chunk(byte(i+1), n)
		want = append(want, c.Data...)
		if u := b.Accept(c); u != nil {
			if flushed != nil {
				t.Fatal("Accept: more than one utterance flushed")
			}
			flushed = u
		}
	}

	if flushed == nil {
		t.Fatal("Accept: no utterance flushed after crossing threshold")
	}
	if !bytes.Equal(flushed.Bytes(), want) {
		t.Errorf("flushed bytes do not equal ordered concatenation of inputs (got %d bytes, want %d)",
			flushed.Len(), len(want))
	}
	if flushed.State() != pipeline.UtteranceFlushing {
		t.Errorf("State: want Flushing, got %v", flushed.State())
	}
	if flushed.SampleRate() != 16000 || flushed.Channels() != 1 {
		t.Errorf("audio metadata lost: rate=%d channels=%d", flushed.SampleRate(), flushed.Channels())
	}
}

func TestAccept_RestartsEmptyAfterFlush(t *testing.T) {
	t.Parallel()

	b := pipeline.NewUtteranceBuffer(pipeline.WithFlushThreshold(50))

	if u := b.Accept(chunk(1, 50)); u == nil {
		t.Fatal("first flush missing")
	}
	if got := b.Pending(); got != 0 {
		t.Fatalf("Pending after flush: want 0, got %d", got)
	}

	// The next accumulator starts from empty: 30 bytes stay pending.
	if u := b.Accept(chunk(2, 30)); u != nil {
		t.Fatal("unexpected flush below threshold after restart")
	}
	if got := b.Pending(); got != 30 {
		t.Fatalf("Pending: want 30, got %d", got)
	}
}

func TestAccept_NoThresholdFlushWithVAD(t *testing.T) {
	t.Parallel()

	b := pipeline.NewUtteranceBuffer(pipeline.WithFlushThreshold(50), pipeline.WithVAD())

	if u := b.Accept(chunk(1, 500)); u != nil {
		t.Fatal("byte threshold must not flush when VAD is attached")
	}
	u := b.Signal(pipeline.UtteranceEnd)
	if u == nil {
		t.Fatal("UtteranceEnd did not flush")
	}
	if u.Len() != 500 {
		t.Errorf("flushed length: want 500, got %d", u.Len())
	}
}

func TestSignal_EmptyFlushIsNoOp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		prep func(b *pipeline.UtteranceBuffer)
	}{
		{"nothing accumulated", func(b *pipeline.UtteranceBuffer) {}},
		{"open but empty via UtteranceStart", func(b *pipeline.UtteranceBuffer) {
			b.Signal(pipeline.UtteranceStart)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := pipeline.NewUtteranceBuffer(pipeline.WithVAD())
			tc.prep(b)
			if u := b.Signal(pipeline.UtteranceEnd); u != nil {
				t.Errorf("empty flush produced an utterance with %d bytes", u.Len())
			}
		})
	}
}

func TestSignal_CancelDiscardsAccumulator(t *testing.T) {
	t.Parallel()

	b := pipeline.NewUtteranceBuffer(pipeline.WithVAD())
	b.Accept(chunk(1, 100))
	if u := b.Signal(pipeline.Cancel); u != nil {
		t.Fatal("Cancel must not flush")
	}
	if u := b.Signal(pipeline.UtteranceEnd); u != nil {
		t.Fatal("accumulator not discarded by Cancel")
	}
}

func TestAccept_IgnoresEmptyChunks(t *testing.T) {
	t.Parallel()

	b := pipeline.NewUtteranceBuffer()
	if u := b.Accept(pipeline.AudioChunk{}); u != nil {
		t.Fatal("empty chunk flushed an utterance")
	}
	if got := b.Pending(); got != 0 {
		t.Fatalf("Pending: want 0, got %d", got)
	}
}
