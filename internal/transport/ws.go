package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/loomkit/loom/internal/mirror"
)

// WSConfig tunes the WebSocket transport.
type WSConfig struct {
	WriteTimeout time.Duration
	DialAttempts int
	Backoff      BackoffConfig
}

// WithDefaults fills unset fields.
func (c WSConfig) WithDefaults() WSConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 5
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// WS is a WebSocket-backed mirror transport. Commands travel as binary
// msgpack messages, one command per message; the socket's own framing
// preserves order.
type WS struct {
	conn *websocket.Conn
	cfg  WSConfig

	writeMu sync.Mutex
	closed  bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// DialWS connects to a peer, retrying with backoff until the context
// expires or the attempt budget runs out.
func DialWS(ctx context.Context, url string, cfg WSConfig) (*WS, error) {
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			return &WS{conn: conn, cfg: cfg}, nil
		}
		lastErr = err
		delay := cfg.Backoff.Delay(attempt, rng)
		log.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", delay).
			Str("url", url).Msg("dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("dialing %s: %w", url, lastErr)
}

// UpgradeWS accepts an incoming connection on the serving side.
func UpgradeWS(w http.ResponseWriter, r *http.Request, cfg WSConfig) (*WS, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading connection: %w", err)
	}
	return &WS{conn: conn, cfg: cfg.WithDefaults()}, nil
}

// SendCommand implements mirror.Transport. Safe for the single-writer
// session; the lock guards against Close racing a write.
func (w *WS) SendCommand(cmd mirror.Command) error {
	data, err := mirror.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return fmt.Errorf("transport: connection closed")
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Run attaches the transport to a session and pumps received commands
// into the runtime until the connection dies, then detaches. Blocks;
// callers run it on its own goroutine.
func (w *WS) Run(sess *mirror.Session, rt *mirror.Runtime) error {
	if err := sess.AttachTransport(w); err != nil {
		return err
	}
	defer sess.DetachTransport()
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("session", sess.ID()).Msg("read loop ended")
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		cmd, err := mirror.DecodeCommand(data)
		if err != nil {
			log.Warn().Err(err).Str("session", sess.ID()).Msg("dropping malformed command")
			continue
		}
		rt.Deliver(cmd)
	}
}

// Close shuts the socket down and unblocks Run.
func (w *WS) Close() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}
