package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxloom/internal/pipeline"
	"github.com/MrWong99/voxloom/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxloom/pkg/provider/llm/mock"
)

// collect drains a delta channel into a slice.
func collect(ch <-chan string) []string {
	var out []string
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func TestRespond_StreamsDeltasAndAppendsAssistantOnce(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hi"},
			{Text: " there"},
			{Text: "!", FinishReason: "stop"},
		},
	}
	conv := pipeline.NewConversation("sys")
	g := pipeline.NewGenerationStage(p, conv, nil, nil)

	deltas := collect(g.Respond(context.Background(), "hello there"))

	want := []string{"Hi", " there", "!"}
	if len(deltas) != len(want) {
		t.Fatalf("deltas: want %v, got %v", want, deltas)
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Errorf("delta %d: want %q, got %q (order must match the engine)", i, want[i], deltas[i])
		}
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("conversation length: want 3, got %d", len(msgs))
	}
	if msgs[1].Role != llm.RoleUser || msgs[1].Content != "hello there" {
		t.Errorf("user turn: got %+v", msgs[1])
	}
	if msgs[2].Role != llm.RoleAssistant || msgs[2].Content != "Hi there!" {
		t.Errorf("assistant turn: want full accumulated reply, got %+v", msgs[2])
	}

	// The request must carry the entire history including the new user turn.
	if got := len(p.StreamCalls); got != 1 {
		t.Fatalf("StreamCalls: want 1, got %d", got)
	}
	reqMsgs := p.StreamCalls[0].Req.Messages
	if len(reqMsgs) != 2 || reqMsgs[0].Role != llm.RoleSystem || reqMsgs[1].Content != "hello there" {
		t.Errorf("request messages: got %+v", reqMsgs)
	}
}

func TestRespond_StartFailureEmitsFallbackWithoutAssistant(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamErr: errors.New("backend down")}
	conv := pipeline.NewConversation("sys")
	g := pipeline.NewGenerationStage(p, conv, nil, nil,
		pipeline.WithFallbackReply("Sorry, try again."))

	deltas := collect(g.Respond(context.Background(), "hello"))

	if len(deltas) != 1 || deltas[0] != "Sorry, try again." {
		t.Fatalf("deltas: want single fallback, got %v", deltas)
	}
	if got := conv.Len(); got != 2 {
		t.Errorf("conversation length: want 2 (dangling user), got %d", got)
	}
}

func TestRespond_MidStreamFailureEmitsFallbackWithoutAssistant(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hi"},
			{FinishReason: llm.FinishReasonError, Text: "connection reset"},
		},
	}
	conv := pipeline.NewConversation("sys")
	g := pipeline.NewGenerationStage(p, conv, nil, nil,
		pipeline.WithFallbackReply("Sorry."))

	deltas := collect(g.Respond(context.Background(), "hello"))

	if len(deltas) != 2 || deltas[0] != "Hi" || deltas[1] != "Sorry." {
		t.Fatalf("deltas: want forwarded prefix then single fallback, got %v", deltas)
	}
	// No partial assistant turn, ever: size unchanged since the user append.
	if got := conv.Len(); got != 2 {
		t.Errorf("conversation length: want 2, got %d", got)
	}
}

func TestRespond_CancellationStopsWithoutAssistantOrFallback(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "never delivered"}},
		BlockUntil:   gate,
	}
	conv := pipeline.NewConversation("sys")
	g := pipeline.NewGenerationStage(p, conv, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := g.Respond(ctx, "hello")
	cancel()

	done := make(chan []string, 1)
	go func() { done <- collect(out) }()

	select {
	case deltas := <-done:
		if len(deltas) != 0 {
			t.Errorf("deltas after cancel: want none, got %v", deltas)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delta channel did not close after cancellation")
	}

	if got := conv.Len(); got != 2 {
		t.Errorf("conversation length: want 2 (user appended, no assistant), got %d", got)
	}
}

func TestRespond_AppendsUserSynchronously(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	p := &llmmock.Provider{BlockUntil: gate}
	conv := pipeline.NewConversation("sys")
	g := pipeline.NewGenerationStage(p, conv, nil, nil)

	out := g.Respond(context.Background(), "hello")
	// Before any delta arrives, the user turn is already in the history.
	if got := conv.Len(); got != 2 {
		t.Errorf("conversation length right after Respond: want 2, got %d", got)
	}
	close(gate)
	collect(out)
}
