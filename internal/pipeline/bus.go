package pipeline

import "sync"

// Bus is the ordered, typed message channel connecting pipeline stages. It
// carries inbound data frames (audio and control from the transport side),
// outbound data frames (synthesized audio towards the transport), and an
// upstream control channel flowing opposite to data (cancellation).
//
// Each channel preserves publication order and has exactly one consumer.
// Publication never blocks past shutdown: once Close is called, publishing
// returns false and the frame is dropped.
type Bus struct {
	inbound  chan Frame
	outbound chan Frame
	control  chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

// NewBus creates a Bus whose data channels hold up to buf frames each.
func NewBus(buf int) *Bus {
	return &Bus{
		inbound:  make(chan Frame, buf),
		outbound: make(chan Frame, buf),
		control:  make(chan Frame, 16),
		done:     make(chan struct{}),
	}
}

// PublishInbound places a frame on the inbound data channel. It reports
// whether the frame was accepted; false means the bus is shut down.
func (b *Bus) PublishInbound(f Frame) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.inbound <- f:
		return true
	case <-b.done:
		return false
	}
}

// PublishOutbound places a frame on the outbound data channel. It reports
// whether the frame was accepted; false means the bus is shut down.
func (b *Bus) PublishOutbound(f Frame) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.outbound <- f:
		return true
	case <-b.done:
		return false
	}
}

// PublishControl places a control frame on the upstream control channel.
// It reports whether the frame was accepted.
func (b *Bus) PublishControl(f Frame) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.control <- f:
		return true
	case <-b.done:
		return false
	}
}

// Inbound returns the inbound data channel. Single consumer.
func (b *Bus) Inbound() <-chan Frame {
	return b.inbound
}

// Outbound returns the outbound data channel. Single consumer.
func (b *Bus) Outbound() <-chan Frame {
	return b.outbound
}

// Control returns the upstream control channel. Single consumer.
func (b *Bus) Control() <-chan Frame {
	return b.control
}

// Done returns a channel closed when the bus shuts down.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Close shuts the bus down. Pending frames already buffered remain readable;
// subsequent publications are dropped. Safe to call multiple times.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}
