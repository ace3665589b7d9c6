package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/syncpulse/internal/domain"
)

const (
	writeDeadline            = 5 * time.Second
	pingInterval             = 30 * time.Second
	pongDeadline             = 60 * time.Second
	defaultMessageBufferSize = 16
)

// connWriter owns all writes to one WebSocket connection. Frames are queued on
// sendChannel and written by a dedicated goroutine, so a slow peer only ever
// fills its own queue.
type connWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	// stopped is closed when run returns, including after a write error.
	stopped  chan struct{}
	stopOnce sync.Once
	wg          sync.WaitGroup
}

var _ domain.Conn = (*connWriter)(nil)

func newConnWriter(connection *websocket.Conn, clock clockwork.Clock, bufferSize int) *connWriter {
	if bufferSize <= 0 {
		bufferSize = defaultMessageBufferSize
	}
	cw := &connWriter{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, bufferSize),
		doneChannel: make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *connWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()
	defer close(cw.stopped)

	for {
		select {
		case msg := <-cw.sendChannel:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Unblocks the reader so the lifecycle handler tears down.
				_ = cw.connection.Close()
				return
			}
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = cw.connection.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// Send queues a text frame. It never blocks: a full queue yields
// domain.ErrSendBufferFull and a stopped writer domain.ErrConnectionClosed.
func (cw *connWriter) Send(msg []byte) error {
	select {
	case <-cw.doneChannel:
		return domain.ErrConnectionClosed
	case <-cw.stopped:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case cw.sendChannel <- msg:
		return nil
	case <-cw.doneChannel:
		return domain.ErrConnectionClosed
	case <-cw.stopped:
		return domain.ErrConnectionClosed
	default:
		return domain.ErrSendBufferFull
	}
}

// Close sends a close frame carrying reason, then closes the socket.
// An empty reason sends a bare close frame with no status or payload.
// Safe to call more than once.
func (cw *connWriter) Close(reason string) error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)

		// The close frame is written only after run has exited, so the
		// connection never sees concurrent writers.
		cw.wg.Wait()

		code := websocket.CloseNormalClosure
		if reason == "" {
			code = websocket.CloseNoStatusReceived
		}
		closeMsg := websocket.FormatCloseMessage(code, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)

		err = cw.connection.Close()
	})
	return err
}

// abort stops the writer and drops the socket without a close frame. Used
// once the peer has gone away.
func (cw *connWriter) abort() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *connWriter) updateWriteDeadline() {
	deadline := cw.clock.Now().Add(writeDeadline)
	_ = cw.connection.SetWriteDeadline(deadline)
}

func (cw *connWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

func (cw *connWriter) updateReadDeadline() {
	deadline := cw.clock.Now().Add(pongDeadline)
	_ = cw.connection.SetReadDeadline(deadline)
}
