package server

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/actionlog"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/canvas"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/hub"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
)

const writeWait = 10 * time.Second

// maxFastPaintStrikes is the number of consecutive too-fast paints a
// connection survives; one more closes it.
const maxFastPaintStrikes = 3

// conn is one client connection. Four goroutines serve it: the read loop,
// the hub subscriber, the batch flusher and the heartbeat; the first to
// exit cancels the rest.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	logger zerolog.Logger

	// writeMu serializes all writes to the socket.
	writeMu sync.Mutex

	// mu guards the protocol state below.
	mu           sync.Mutex
	uid          int64
	authed       bool
	snapshotSent bool
	pongPending  bool
	fastStrikes  int
	trashStrikes int

	// pendingMu guards the delta accumulator, emptied atomically with
	// each batch flush.
	pendingMu sync.Mutex
	pending   []pixel.Pixel
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	return &conn{
		srv:    s,
		ws:     ws,
		logger: s.logger.With().Str("remote", ws.RemoteAddr().String()).Logger(),
	}
}

func (c *conn) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sub := c.srv.deps.Hub.Subscribe()
	defer c.srv.deps.Hub.Unsubscribe(sub)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer cancel()
		c.recvDeltas(ctx, sub)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.flushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.heartbeat(ctx)
	}()

	// Closing the socket is what unblocks a parked ReadMessage.
	go func() {
		<-ctx.Done()
		c.ws.Close()
	}()

	c.readLoop()
	cancel()
	wg.Wait()

	c.logger.Info().Msg("closed")
}

// readLoop reads and handles inbound frames until a terminal condition.
func (c *conn) readLoop() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		if mt != websocket.BinaryMessage {
			c.trash("non-binary frame")
		} else if len(data) == 0 {
			c.logger.Warn().Msg("received empty frame")
		} else if c.handleFrame(data[0], data[1:]) {
			return
		}

		c.mu.Lock()
		fast, trash := c.fastStrikes, c.trashStrikes
		c.mu.Unlock()

		if fast > maxFastPaintStrikes {
			c.logger.Warn().Msg("closed due to quick paint")
			return
		}
		if trash > 0 {
			c.logger.Warn().Msg("closed due to trash pack")
			return
		}
	}
}

// handleFrame dispatches one inbound frame. It returns true when the
// connection must close immediately.
func (c *conn) handleFrame(opcode byte, payload []byte) bool {
	switch opcode {
	case opAuth:
		return c.handleAuth(payload)
	case opPaint:
		c.handlePaint(payload)
		return false
	case opBoard:
		return c.handleBoard()
	case opPong:
		c.handlePong()
		return false
	default:
		c.trash("unknown opcode")
		return false
	}
}

func (c *conn) handleAuth(payload []byte) bool {
	c.mu.Lock()
	dup := c.authed
	c.mu.Unlock()

	if dup {
		c.trash("duplicated auth")
		return false
	}

	uid, err := c.srv.deps.Verifier.Verify(string(payload))
	if err != nil {
		c.logger.Warn().Err(err).Msg("auth failed")
		if sendErr := c.writeFrame(opAuthFail, nil); sendErr != nil {
			return true
		}
		c.trash("invalid token")
		return false
	}

	c.mu.Lock()
	c.uid = uid
	c.authed = true
	c.mu.Unlock()

	if err := c.writeFrame(opAuthOk, nil); err != nil {
		return true
	}

	c.logger.Info().Int64("uid", uid).Msg("authenticated")
	return false
}

func (c *conn) handleBoard() bool {
	c.mu.Lock()
	authed, sent := c.authed, c.snapshotSent
	c.mu.Unlock()

	if !authed {
		c.trash("board request without auth")
		return false
	}
	if sent {
		// Refuse to send the board twice.
		c.logger.Warn().Msg("duplicate board request, closing")
		return true
	}

	body := c.srv.deps.Encoder.Encode(c.srv.deps.Canvas)

	c.mu.Lock()
	c.snapshotSent = true
	c.mu.Unlock()

	if err := c.writeFrame(opSnapshot, body); err != nil {
		c.logger.Warn().Err(err).Msg("error sending board")
		return true
	}

	if m := c.srv.deps.Metrics; m != nil {
		m.SnapshotsSent.Inc()
		m.SnapshotBytes.Add(float64(len(body)))
	}

	c.logger.Info().Int("bytes", len(body)).Msg("sent board")
	return false
}

func (c *conn) handlePaint(payload []byte) {
	c.mu.Lock()
	authed, uid := c.authed, c.uid
	c.mu.Unlock()

	if !authed {
		c.trash("paint without auth")
		return
	}
	if len(payload) != pixel.PixelLen {
		c.trash("invalid paint payload length")
		return
	}

	x := binary.LittleEndian.Uint16(payload[0:2])
	y := binary.LittleEndian.Uint16(payload[2:4])
	if !c.srv.deps.Canvas.Contains(x, y) {
		c.trash("paint out of bounds")
		return
	}
	color := pixel.Color{R: payload[4], G: payload[5], B: payload[6]}

	now := time.Now()

	if w := c.srv.cfg.PaintWindow(); w != nil && !w.Contains(now) {
		c.trash("paint outside the allowed window")
		return
	}

	if !c.srv.deps.Pace.Allow(uid, now) {
		c.mu.Lock()
		c.fastStrikes++
		c.mu.Unlock()
		if m := c.srv.deps.Metrics; m != nil {
			m.PaintsTooFast.Inc()
		}
		c.logger.Debug().Msg("quick paint")
		return
	}

	c.mu.Lock()
	c.fastStrikes = 0
	c.mu.Unlock()

	prev := c.srv.deps.Canvas.Set(x, y, canvas.Cell{Color: color, UID: uid, Time: now})

	// Every admitted paint is logged, changed cell or not.
	c.srv.deps.Actions.Append(actionlog.Action{X: x, Y: y, Color: color, UID: uid, Time: now})

	if m := c.srv.deps.Metrics; m != nil {
		m.PaintsAccepted.Inc()
	}

	if prev != color {
		c.srv.deps.Hub.Publish(pixel.Pixel{X: x, Y: y, Color: color})
	}
}

func (c *conn) handlePong() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authed {
		c.trashLocked("pong without auth")
		return
	}
	c.pongPending = false
}

// recvDeltas accumulates hub deltas once the client holds a snapshot.
func (c *conn) recvDeltas(ctx context.Context, sub *hub.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-sub.C:
			if !ok {
				return
			}

			c.mu.Lock()
			live := c.authed && c.snapshotSent
			c.mu.Unlock()

			if live {
				c.pendingMu.Lock()
				c.pending = append(c.pending, p)
				c.pendingMu.Unlock()
			}
		}
	}
}

// flushLoop sends the accumulated deltas as one PaintBatch per tick.
func (c *conn) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.srv.cfg.DeltaFlush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pendingMu.Lock()
			batch := c.pending
			c.pending = nil
			c.pendingMu.Unlock()

			if len(batch) == 0 {
				continue
			}

			payload := make([]byte, 0, len(batch)*pixel.PixelLen)
			for _, p := range batch {
				payload = p.AppendBinary(payload)
			}

			if err := c.writeFrame(opPaintBatch, payload); err != nil {
				c.logger.Warn().Err(err).Msg("error sending pixels")
				return
			}
		}
	}
}

// heartbeat pings on a fixed cadence and closes the connection when the
// pong does not arrive inside the grace period.
func (c *conn) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.pongPending = true
			c.mu.Unlock()

			if err := c.writeFrame(opPing, nil); err != nil {
				c.logger.Warn().Err(err).Msg("error sending ping")
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.srv.cfg.PongTimeout):
			}

			c.mu.Lock()
			pending := c.pongPending
			c.mu.Unlock()

			if pending {
				c.logger.Warn().Msg("closed without pong")
				return
			}
		}
	}
}

// writeFrame sends one opcode-prefixed binary frame.
func (c *conn) writeFrame(opcode byte, payload []byte) error {
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, opcode)
	frame = append(frame, payload...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *conn) trash(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trashLocked(reason)
}

func (c *conn) trashLocked(reason string) {
	c.trashStrikes++
	c.logger.Warn().Str("reason", reason).Msg("trash frame")
	if m := c.srv.deps.Metrics; m != nil {
		m.TrashFrames.Inc()
	}
}
