package adapters

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"comfy-relay/server/internal/interfaces"
	"comfy-relay/server/internal/models"
)

const DefaultReconnectDelay = 5 * time.Second

// Listener keeps a connection to the remote server's event stream open for
// the life of the process, classifies every frame and publishes the
// resulting events. It is the only producer on the bus.
type Listener struct {
	dialer interfaces.Dialer
	bus    interfaces.Publisher
	url    string
	delay  time.Duration
	logger *zap.Logger

	// sleep waits out the reconnect delay; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error

	state    atomic.Int32
	attempts atomic.Int64
}

// NewListener creates a listener that dials streamURL through dialer and
// publishes to bus. A non-positive delay uses DefaultReconnectDelay.
func NewListener(dialer interfaces.Dialer, bus interfaces.Publisher, streamURL string, delay time.Duration) *Listener {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Listener{
		dialer: dialer,
		bus:    bus,
		url:    streamURL,
		delay:  delay,
		logger: zap.L().Named("listener"),
		sleep:  sleepContext,
	}
}

// StreamURL appends the relay's client id to the event stream address. The
// remote server routes execution events for prompts submitted with the same
// id to this connection.
func StreamURL(wsURL, clientID string) string {
	sep := "?"
	if strings.Contains(wsURL, "?") {
		sep = "&"
	}
	return wsURL + sep + "clientId=" + url.QueryEscape(clientID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current connection state.
func (l *Listener) State() ConnState {
	return ConnState(l.state.Load())
}

// Attempts returns the number of connection attempts made so far.
func (l *Listener) Attempts() int64 {
	return l.attempts.Load()
}

func (l *Listener) fire(e ConnEvent) Action {
	next, action := Transition(l.State(), e)
	l.state.Store(int32(next))
	return action
}

// Run drives the state machine until ctx is cancelled. Connection failures
// are retried after a fixed delay with no limit.
func (l *Listener) Run(ctx context.Context) {
	action := l.fire(Retry)
	var conn interfaces.FrameConn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for ctx.Err() == nil {
		switch action {
		case ActionDial:
			l.attempts.Inc()
			l.logger.Info("connecting to event stream", zap.String("url", l.url), zap.Int64("attempt", l.attempts.Load()))

			var err error
			conn, err = l.dialer.Dial(ctx, l.url)
			if err != nil {
				l.logger.Error("failed to connect to event stream", zap.Error(err))
				action = l.fire(DialFailed)
				continue
			}
			l.logger.Info("connected to event stream")
			action = l.fire(DialSucceeded)

		case ActionRead:
			err := l.readFrames(ctx, conn)
			conn.Close()
			conn = nil
			if err != nil && ctx.Err() == nil {
				l.logger.Error("event stream error", zap.Error(err))
			}
			action = l.fire(StreamEnded)

		case ActionWait:
			l.logger.Info("event stream disconnected, reconnecting", zap.Duration("delay", l.delay))
			if err := l.sleep(ctx, l.delay); err != nil {
				return
			}
			action = l.fire(Retry)

		default:
			// unreachable with the transitions above; restart from scratch
			l.state.Store(int32(Disconnected))
			action = l.fire(Retry)
		}
	}
}

// readFrames relays frames from one connection until it fails or ctx is
// cancelled. The current prompt id starts empty on every connection.
func (l *Listener) readFrames(ctx context.Context, conn interfaces.FrameConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	currentPromptID := ""
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		c := Classify(frame, currentPromptID)
		if c.PromptStarted {
			currentPromptID = c.PromptID
		}
		l.logFrame(frame, c)

		if c.Event == nil {
			continue
		}
		msg, err := models.Encode(c.Event)
		if err != nil {
			l.logger.Error("failed to encode event", zap.String("type", c.Event.EventType()), zap.Error(err))
			continue
		}
		l.bus.Publish(msg)
	}
}

func (l *Listener) logFrame(frame interfaces.Frame, c Classification) {
	if frame.Kind == interfaces.TextFrame && c.Type != "" && c.Type != frameStatus && !strings.Contains(c.Type, "monitor") {
		l.logger.Info("upstream event", zap.String("type", c.Type), zap.ByteString("frame", frame.Data))
	}
	if c.Event == nil {
		l.logger.Debug("frame dropped",
			zap.String("type", c.Type),
			zap.Bool("binary", frame.Kind == interfaces.BinaryFrame),
			zap.Int("size", len(frame.Data)))
	}
}
