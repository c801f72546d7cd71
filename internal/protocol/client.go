package protocol

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quicperfio/quicperf/internal/engine"
)

const bulkPadSize = 64 * 1024

// ClientState drives the client side of spec section 4.6's handshake and
// transfer phases over one stream 0.
type ClientState struct {
	clock clockwork.Clock

	tc       TestConfig
	configSent, configAcked, finished bool
	start    time.Time

	ackBuf  jsonAccumulator
	pad     []byte
	pacer   *bitratePacer
	cfgJSON []byte
	cfgSent int
}

// NewClient builds a ClientState that will send tc once Dispatch is called.
func NewClient(clock clockwork.Clock, tc TestConfig) (*ClientState, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	body, err := marshalConfig(tc)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode config: %w", err)
	}
	cs := &ClientState{clock: clock, tc: tc, pad: make([]byte, bulkPadSize), cfgJSON: body}
	if tc.BitrateTarget != nil {
		cs.pacer = newBitratePacer(*tc.BitrateTarget)
	}
	return cs, nil
}

func (c *ClientState) Finished() bool { return c.finished }

// Dispatch performs one iteration of send-config / await-ack / transfer /
// terminate against stream, in that order (each phase is a no-op once past
// it), mirroring spec section 4.6.
func (c *ClientState) Dispatch(stream engine.Stream) error {
	if c.finished {
		return nil
	}

	if !c.configSent {
		n, err := stream.Send(c.cfgJSON[c.cfgSent:], false)
		if err != nil {
			return fmt.Errorf("protocol: send config: %w", err)
		}
		c.cfgSent += n
		if c.cfgSent >= len(c.cfgJSON) {
			c.configSent = true
			c.start = c.clock.Now()
		}
		return nil
	}

	if !c.configAcked {
		return c.recvAck(stream)
	}

	if c.clock.Now().Sub(c.start) >= c.tc.Duration.ToGo() {
		c.finished = true
		return engine.ErrDone
	}

	if c.tc.ClientSending {
		return c.sendBulk(stream)
	}
	return c.recvBulk(stream)
}

func (c *ClientState) recvAck(stream engine.Stream) error {
	buf := make([]byte, 4096)
	n, _, err := stream.Recv(buf)
	if err != nil {
		return fmt.Errorf("protocol: recv ack: %w", err)
	}
	if n == 0 {
		return nil
	}
	c.ackBuf.Feed(buf[:n])

	var ack Ack
	ok, err := c.ackBuf.TryDecode(&ack)
	if err != nil {
		return fmt.Errorf("protocol: malformed ack: %w", err)
	}
	if !ok {
		return nil
	}
	if ack.Error != nil {
		return fmt.Errorf("protocol: server rejected config: %s", *ack.Error)
	}
	c.configAcked = true
	return nil
}

func (c *ClientState) sendBulk(stream engine.Stream) error {
	budget := uint64(len(c.pad))
	if c.pacer != nil {
		budget = c.pacer.allowance(c.clock.Now())
		if budget == 0 {
			return nil
		}
		if budget > uint64(len(c.pad)) {
			budget = uint64(len(c.pad))
		}
	}
	_, err := stream.Send(c.pad[:budget], false)
	if err != nil {
		return fmt.Errorf("protocol: send bulk: %w", err)
	}
	return nil
}

func (c *ClientState) recvBulk(stream engine.Stream) error {
	buf := make([]byte, bulkPadSize)
	_, _, err := stream.Recv(buf)
	if err != nil {
		return fmt.Errorf("protocol: recv bulk: %w", err)
	}
	return nil
}

// NextTimeout reports the protocol-driven portion of the event loop's
// effective timeout (spec section 4.6's "shortened to BITRATE_TIMER -
// (now - last_send)"), or a very long duration when not bitrate-paced.
func (c *ClientState) NextTimeout() time.Duration {
	if c.pacer == nil {
		return time.Hour
	}
	return c.pacer.nextTimeout(c.clock.Now())
}
