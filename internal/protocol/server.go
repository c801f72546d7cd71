package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quicperfio/quicperf/internal/engine"
)

// ErrAuthFailed signals the password mismatch close path of spec section 4.6.
type ErrAuthFailed struct{}

func (ErrAuthFailed) Error() string { return "protocol: authentication failed" }

// ErrMalformedConfig signals a JSON parse failure on the config stream.
type ErrMalformedConfig struct{ Err error }

func (e ErrMalformedConfig) Error() string { return fmt.Sprintf("protocol: malformed config: %v", e.Err) }
func (e ErrMalformedConfig) Unwrap() error { return e.Err }

// ServerState drives the server side of spec section 4.6: receive config,
// authenticate, ack, then transfer according to the negotiated direction.
type ServerState struct {
	clock clockwork.Clock

	password *string // server's expected password; nil accepts any

	cfgBuf jsonAccumulator
	tc     *TestConfig

	configAcked, finished bool
	start                 time.Time

	pad   []byte
	pacer *bitratePacer
}

// NewServer builds a ServerState. password is the server's expected
// password; nil means "accept any client password" (spec section 4.6).
func NewServer(clock clockwork.Clock, password *string) *ServerState {
	return &ServerState{clock: clock, password: password, pad: make([]byte, bulkPadSize)}
}

func (s *ServerState) Finished() bool       { return s.finished }
func (s *ServerState) Config() *TestConfig { return s.tc }

// Dispatch performs one iteration of recv-config / ack / transfer /
// terminate against stream.
func (s *ServerState) Dispatch(stream engine.Stream) error {
	if s.finished {
		return nil
	}

	if s.tc == nil {
		return s.recvConfig(stream)
	}

	if !s.configAcked {
		return nil // ack already written synchronously in recvConfig
	}

	if s.clock.Now().Sub(s.start) >= s.tc.Duration.ToGo() {
		s.finished = true
		return engine.ErrDone
	}

	if s.tc.ClientSending {
		return s.recvBulk(stream)
	}
	return s.sendBulk(stream)
}

func (s *ServerState) recvConfig(stream engine.Stream) error {
	buf := make([]byte, 4096)
	n, _, err := stream.Recv(buf)
	if err != nil {
		return fmt.Errorf("protocol: recv config: %w", err)
	}
	if n == 0 {
		return nil
	}
	s.cfgBuf.Feed(buf[:n])

	var tc TestConfig
	ok, err := s.cfgBuf.TryDecode(&tc)
	if err != nil {
		return ErrMalformedConfig{Err: err}
	}
	if !ok {
		return nil
	}

	if !passwordsMatch(s.password, tc.Password) {
		return ErrAuthFailed{}
	}

	ack, err := json.Marshal(Ack{Error: nil})
	if err != nil {
		return fmt.Errorf("protocol: encode ack: %w", err)
	}
	if _, err := stream.Send(ack, false); err != nil {
		return fmt.Errorf("protocol: send ack: %w", err)
	}

	s.tc = &tc
	s.configAcked = true
	s.start = s.clock.Now()
	if tc.BitrateTarget != nil {
		s.pacer = newBitratePacer(*tc.BitrateTarget)
	}
	return nil
}

func passwordsMatch(expected, got *string) bool {
	if expected == nil {
		return true
	}
	return got != nil && *expected == *got
}

func (s *ServerState) sendBulk(stream engine.Stream) error {
	budget := uint64(len(s.pad))
	if s.pacer != nil {
		budget = s.pacer.allowance(s.clock.Now())
		if budget == 0 {
			return nil
		}
		if budget > uint64(len(s.pad)) {
			budget = uint64(len(s.pad))
		}
	}
	_, err := stream.Send(s.pad[:budget], false)
	if err != nil {
		return fmt.Errorf("protocol: send bulk: %w", err)
	}
	return nil
}

func (s *ServerState) recvBulk(stream engine.Stream) error {
	buf := make([]byte, bulkPadSize)
	_, _, err := stream.Recv(buf)
	if err != nil {
		return fmt.Errorf("protocol: recv bulk: %w", err)
	}
	return nil
}

// NextTimeout mirrors ClientState.NextTimeout for the server side.
func (s *ServerState) NextTimeout() time.Duration {
	if s.pacer == nil {
		return time.Hour
	}
	return s.pacer.nextTimeout(s.clock.Now())
}
