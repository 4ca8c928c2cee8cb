package pipeline_test

import (
	"testing"

	"github.com/MrWong99/voxloom/internal/pipeline"
)

func TestBus_PreservesPublicationOrder(t *testing.T) {
	t.Parallel()

	b := pipeline.NewBus(8)
	inputs := []pipeline.Frame{
		pipeline.AudioChunk{Data: []byte{1}},
		pipeline.ControlSignal{Kind: pipeline.UtteranceEnd},
		pipeline.AudioChunk{Data: []byte{2}},
	}
	for _, f := range inputs {
		if !b.PublishInbound(f) {
			t.Fatal("PublishInbound rejected frame on open bus")
		}
	}
	for i, want := range inputs {
		got := <-b.Inbound()
		switch w := want.(type) {
		case pipeline.AudioChunk:
			g, ok := got.(pipeline.AudioChunk)
			if !ok || g.Data[0] != w.Data[0] {
				t.Fatalf("frame %d out of order: got %#v", i, got)
			}
		case pipeline.ControlSignal:
			if _, ok := got.(pipeline.ControlSignal); !ok {
				t.Fatalf("frame %d out of order: got %#v", i, got)
			}
		}
	}
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	b := pipeline.NewBus(8)
	b.Close()
	if b.PublishInbound(pipeline.AudioChunk{Data: []byte{1}}) {
		t.Error("PublishInbound accepted a frame after Close")
	}
	if b.PublishOutbound(pipeline.AudioChunk{Data: []byte{1}}) {
		t.Error("PublishOutbound accepted a frame after Close")
	}
	if b.PublishControl(pipeline.ControlSignal{Kind: pipeline.Cancel}) {
		t.Error("PublishControl accepted a frame after Close")
	}
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	b := pipeline.NewBus(1)
	b.Close()
	b.Close() // must not panic

	select {
	case <-b.Done():
	default:
		t.Error("Done channel not closed after Close")
	}
}

func TestBus_BufferedFramesReadableAfterClose(t *testing.T) {
	t.Parallel()

	b := pipeline.NewBus(4)
	b.PublishOutbound(pipeline.AudioChunk{Data: []byte{7}})
	b.Close()

	select {
	case f := <-b.Outbound():
		if c, ok := f.(pipeline.AudioChunk); !ok || c.Data[0] != 7 {
			t.Errorf("unexpected frame: %#v", f)
		}
	default:
		t.Error("buffered frame lost on Close")
	}
}
