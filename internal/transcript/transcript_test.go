package transcript_test

import (
	"testing"

	"github.com/MrWong99/voxloom/internal/transcript"
)

func TestIsEcho_MatchesFullReply(t *testing.T) {
	t.Parallel()

	e := transcript.NewEchoSuppressor()
	e.Observe("The dragon sleeps beneath the mountain, far from town.")

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"exact normalized duplicate", "the dragon sleeps beneath the mountain far from town", true},
		{"punctuation and case differ", "The Dragon sleeps beneath the Mountain... far from town!", true},
		{"near duplicate with one STT slip", "the dragon sleeps beneath the mountain far from down", true},
		{"unrelated question", "what is the weather like today", false},
		{"empty transcript", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := e.IsEcho(tc.text); got != tc.want {
				t.Errorf("IsEcho(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestIsEcho_MatchesReplyTail(t *testing.T) {
	t.Parallel()

	e := transcript.NewEchoSuppressor()
	e.Observe("Greetings, traveler! The dragon sleeps beneath the mountain.")

	// The microphone caught only the end of the reply.
	if !e.IsEcho("sleeps beneath the mountain") {
		t.Error("tail of the reply not recognised as echo")
	}
}

func TestIsEcho_ShortCommonWordsPass(t *testing.T) {
	t.Parallel()

	e := transcript.NewEchoSuppressor()
	e.Observe("Yes, the answer is forty-two.")

	// "the" appears inside the reply but is far too short to be an echo.
	if e.IsEcho("the") {
		t.Error("trivially short transcript flagged as echo")
	}
}

func TestObserve_EvictsOldestReply(t *testing.T) {
	t.Parallel()

	e := transcript.NewEchoSuppressor(transcript.WithMemorySize(1))
	e.Observe("the first reply about dragons and mountains")
	e.Observe("a completely different second reply about sailing ships")

	if e.IsEcho("the first reply about dragons and mountains") {
		t.Error("evicted reply still matched")
	}
	if !e.IsEcho("a completely different second reply about sailing ships") {
		t.Error("retained reply not matched")
	}
}

func TestObserve_IgnoresEmptyReplies(t *testing.T) {
	t.Parallel()

	e := transcript.NewEchoSuppressor()
	e.Observe("   ")
	e.Observe("...")

	if e.IsEcho("anything at all really") {
		t.Error("empty observations must not match")
	}
}
