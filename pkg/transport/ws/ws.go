// Package ws implements the transport.Conn interface over a WebSocket
// connection using github.com/coder/websocket.
//
// Wire protocol:
//
//   - Binary messages carry inbound/outbound audio. Inbound payloads are
//     either raw 16-bit little-endian mono PCM at the negotiated sample rate
//     (CodecPCM) or Opus packets at 48 kHz stereo (CodecOpus, decoded via
//     layeh.com/gopus and downmixed to mono). Outbound payloads are always
//     raw PCM.
//
//   - Inbound text messages carry JSON control events: {"type":"ready"}
//     signals the client is ready to converse, {"type":"cancel"} asks the
//     server to abandon the session — in-flight work is cancelled and the
//     connection closes.
//
//   - Outbound text messages mirror the conversation for client display:
//     {"type":"transcript","text":...} carries the committed transcript of a
//     user utterance, {"type":"delta","text":...} one increment of the
//     streamed reply.
//
// A Conn is created by Accept inside an HTTP handler. The read loop owns the
// input and events channels and closes both when the socket dies.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/transport"
)

// Compile-time interface assertions.
var (
	_ transport.Conn       = (*Conn)(nil)
	_ transport.TextSender = (*Conn)(nil)
)

// Codec identifies the inbound audio encoding.
type Codec string

const (
	// CodecPCM is raw 16-bit little-endian mono PCM at Options.SampleRate.
	CodecPCM Codec = "pcm"

	// CodecOpus is Opus packets at 48 kHz stereo (the WebRTC default),
	// decoded and downmixed to mono at Options.SampleRate.
	CodecOpus Codec = "opus"
)

// Opus on the wire is fixed at 48 kHz stereo 20 ms frames.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

const (
	// inputChanBuf is the buffer depth of the inbound frame channel. When the
	// pipeline falls behind, frames beyond this buffer are dropped rather
	// than blocking the socket read loop.
	inputChanBuf = 256

	eventChanBuf = 16

	// writeTimeout bounds each outbound WebSocket write.
	writeTimeout = 5 * time.Second
)

// Options configures an accepted connection.
type Options struct {
	// SampleRate is the PCM sample rate frames are delivered at. Defaults to
	// 16000.
	SampleRate int

	// Codec is the inbound audio encoding. Defaults to CodecPCM.
	Codec Codec

	// Logger receives connection-level diagnostics. Defaults to slog.Default.
	Logger *slog.Logger

	// OriginPatterns is passed through to the WebSocket accept handshake.
	// Empty means same-origin only.
	OriginPatterns []string

	// OnDrop is invoked from the read loop each time an inbound audio frame
	// is dropped because the input buffer is full, with the running total.
	// It must not block. Optional.
	OnDrop func(total int64)
}

// clientControl is the JSON body of an inbound text control message.
type clientControl struct {
	Type string `json:"type"`
}

// serverText is the JSON body of an outbound text message.
type serverText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Conn is a WebSocket-backed transport connection.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger *slog.Logger

	input  chan audio.AudioFrame
	events chan transport.Event

	dec *gopus.Decoder

	// disconnected flips once; Send drops frames afterwards.
	disconnected atomic.Bool

	dropped atomic.Int64

	// started anchors frame timestamps relative to stream start.
	started time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Accept upgrades the HTTP request to a WebSocket and returns a running Conn.
// The returned Conn has already emitted its Connected event.
func Accept(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.Codec == "" {
		opts.Codec = CodecPCM
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: opts.OriginPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("ws: accept: %w", err)
	}
	// Individual audio messages are small; cap reads well above any sane frame.
	wsConn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:      wsConn,
		opts:    opts,
		logger:  opts.Logger.With("component", "transport.ws", "remote", r.RemoteAddr),
		input:   make(chan audio.AudioFrame, inputChanBuf),
		events:  make(chan transport.Event, eventChanBuf),
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}

	if opts.Codec == CodecOpus {
		dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			cancel()
			wsConn.Close(websocket.StatusInternalError, "opus init failed")
			return nil, fmt.Errorf("ws: create opus decoder: %w", err)
		}
		c.dec = dec
	}

	c.events <- transport.Event{Type: transport.Connected}
	go c.readLoop()
	return c, nil
}

// Input implements transport.Conn.
func (c *Conn) Input() <-chan audio.AudioFrame {
	return c.input
}

// Events implements transport.Conn.
func (c *Conn) Events() <-chan transport.Event {
	return c.events
}

// Send implements transport.Conn. Frames are written as binary PCM messages.
// After disconnect it drops the frame and returns false.
func (c *Conn) Send(frame audio.AudioFrame) bool {
	if c.disconnected.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageBinary, frame.Data); err != nil {
		c.logger.Debug("outbound write failed", "error", err)
		return false
	}
	return true
}

// SendTranscript implements transport.TextSender.
func (c *Conn) SendTranscript(text string) bool {
	return c.sendText("transcript", text)
}

// SendTextDelta implements transport.TextSender.
func (c *Conn) SendTextDelta(text string) bool {
	return c.sendText("delta", text)
}

// sendText writes one JSON text message to the client.
func (c *Conn) sendText(kind, text string) bool {
	if c.disconnected.Load() {
		return false
	}
	payload, err := json.Marshal(serverText{Type: kind, Text: text})
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, payload); err != nil {
		c.logger.Debug("outbound text write failed", "error", err)
		return false
	}
	return true
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.disconnected.Store(true)
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// readLoop reads messages from the socket until it dies. It owns input and
// events: both are closed when the loop exits.
func (c *Conn) readLoop() {
	defer func() {
		c.disconnected.Store(true)
		close(c.input)
		close(c.events)
	}()

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			reason := "connection closed"
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				reason = closeErr.Reason
			}
			c.emit(transport.Event{Type: transport.Disconnected, Reason: reason})
			return
		}

		switch typ {
		case websocket.MessageBinary:
			c.handleAudio(data)
		case websocket.MessageText:
			c.handleControl(data)
		}
	}
}

// handleAudio decodes one binary message into an AudioFrame and publishes it
// without ever blocking the read loop.
func (c *Conn) handleAudio(data []byte) {
	pcm := data
	if c.dec != nil {
		samples, err := c.dec.Decode(data, opusFrameSize, false)
		if err != nil {
			c.logger.Debug("opus decode failed, dropping packet", "error", err)
			return
		}
		pcm = stereoInt16ToMonoPCM(samples)
		if c.opts.SampleRate != opusSampleRate {
			pcm = audio.ResampleMono16(pcm, opusSampleRate, c.opts.SampleRate)
		}
	}
	if len(pcm) == 0 {
		return
	}

	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: c.opts.SampleRate,
		Channels:   1,
		Timestamp:  time.Since(c.started),
	}

	// The socket must keep draining even when the pipeline stalls; a full
	// buffer sheds the oldest pressure by dropping the new frame.
	select {
	case c.input <- frame:
	default:
		n := c.dropped.Add(1)
		if c.opts.OnDrop != nil {
			c.opts.OnDrop(n)
		}
		if n%100 == 1 {
			c.logger.Warn("input buffer full, dropping audio frames", "dropped_total", n)
		}
	}
}

// handleControl parses a JSON control message and maps it to a lifecycle
// event. Unknown types are logged and ignored.
func (c *Conn) handleControl(data []byte) {
	var msg clientControl
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("malformed control message", "error", err)
		return
	}
	switch msg.Type {
	case "ready":
		c.emit(transport.Event{Type: transport.Ready})
	case "cancel":
		c.emit(transport.Event{Type: transport.Cancel})
	default:
		c.logger.Debug("unknown control message type", "type", msg.Type)
	}
}

// emit publishes an event without blocking the read loop.
func (c *Conn) emit(ev transport.Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event buffer full, dropping event", "type", ev.Type.String())
	}
}

// stereoInt16ToMonoPCM downmixes interleaved stereo int16 samples to mono
// little-endian PCM bytes.
func stereoInt16ToMonoPCM(samples []int16) []byte {
	n := len(samples) / 2
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		m := (int32(samples[i*2]) + int32(samples[i*2+1])) / 2
		out[i*2] = byte(m)
		out[i*2+1] = byte(m >> 8)
	}
	return out
}
