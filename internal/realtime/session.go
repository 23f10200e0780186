package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"modelgate/internal/domain"
)

// closeHandshakeTimeout bounds how long Close waits for a clean close
// handshake before forcing the underlying connection shut.
const closeHandshakeTimeout = 2 * time.Second

// Session is a duplex realtime audio session: callers push inbound
// frames via Send and pull outbound frames off the channel Receive
// returns, while the session's own goroutine pumps the websocket
// connection underneath.
type Session struct {
	conn       *websocket.Conn
	translator Translator

	sendMu sync.Mutex // gorilla/websocket forbids concurrent writers

	mu    sync.Mutex
	state SessionState

	recvCh chan any
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial opens a realtime session: it dials the provider's websocket
// endpoint, sends the translator's init messages, and starts the
// receive loop. The session is StateConnected by the time Dial returns
// without error.
func Dial(ctx context.Context, endpoint domain.RealtimeEndpoint, translator Translator, opts domain.RealtimeConnectOptions) (*Session, error) {
	if _, err := url.Parse(endpoint.URL); err != nil {
		return nil, fmt.Errorf("realtime: invalid endpoint url: %w", err)
	}

	header := make(http.Header, len(endpoint.Headers))
	for k, v := range endpoint.Headers {
		header.Set(k, v)
	}

	subprotocols := endpoint.Subprotocols
	if len(subprotocols) == 0 {
		subprotocols = translator.Subprotocols()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     subprotocols,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint.URL, header)
	if err != nil {
		return nil, domain.NewGatewayError(domain.ErrServiceUnavailable, 0, "realtime: dial failed", err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:       conn,
		translator: translator,
		state:      StateConnecting,
		recvCh:     make(chan any, 32),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	initMessages, err := translator.InitMessages(opts)
	if err != nil {
		conn.Close()
		cancel()
		return nil, fmt.Errorf("realtime: build init messages: %w", err)
	}
	for _, msg := range initMessages {
		if err := s.writeRaw(websocket.TextMessage, msg); err != nil {
			conn.Close()
			cancel()
			return nil, fmt.Errorf("realtime: send init message: %w", err)
		}
	}

	s.setState(StateConnected)
	go s.receiveLoop(sessionCtx)

	return s, nil
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) writeRaw(messageType int, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteMessage(messageType, payload)
}

// Send encodes and writes one inbound frame. It is safe to call from
// multiple goroutines; writes are serialized internally.
func (s *Session) Send(frame any) error {
	if s.State() != StateConnected {
		return fmt.Errorf("realtime: session is %s, not connected", s.State())
	}

	messageType, payload, err := s.translator.EncodeSend(frame)
	if err != nil {
		return fmt.Errorf("realtime: encode frame: %w", err)
	}
	if payload == nil {
		return nil // translator chose not to emit a wire message for this frame
	}
	return s.writeRaw(messageType, payload)
}

// Receive returns the channel of outbound frames. It is closed once the
// session reaches StateClosed; the last frame delivered before closure
// is always an ErrorFrame or a StatusFrame{State: StateClosed}.
func (s *Session) Receive() <-chan any {
	return s.recvCh
}

// receiveLoop reads frames off the websocket until the connection closes
// or ctx is canceled, translating each message and forwarding the
// resulting canonical frames to recvCh.
func (s *Session) receiveLoop(ctx context.Context) {
	defer close(s.recvCh)
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setState(StateClosed)
			if !isCleanClose(err) {
				select {
				case s.recvCh <- ErrorFrame{Err: fmt.Errorf("realtime: read failed: %w", err)}:
				default:
				}
			}
			select {
			case s.recvCh <- StatusFrame{State: StateClosed}:
			default:
			}
			return
		}

		frames, err := s.translator.DecodeReceive(websocket.TextMessage, payload)
		if err != nil {
			select {
			case s.recvCh <- ErrorFrame{Err: err}:
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, frame := range frames {
			select {
			case s.recvCh <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// Close cancels the receive loop and attempts a clean websocket close
// handshake within closeHandshakeTimeout, forcing the connection shut if
// the peer doesn't acknowledge in time.
func (s *Session) Close() error {
	s.setState(StateClosing)

	deadline := time.Now().Add(closeHandshakeTimeout)
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.writeRaw(websocket.CloseMessage, closeMsg)
	_ = s.conn.SetReadDeadline(deadline)

	select {
	case <-s.done:
	case <-time.After(closeHandshakeTimeout):
	}

	s.cancel()
	s.setState(StateClosed)
	return s.conn.Close()
}
