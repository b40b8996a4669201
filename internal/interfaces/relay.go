package interfaces

import "context"

// FrameKind distinguishes the two message kinds of the upstream event stream.
type FrameKind int

const (
	TextFrame FrameKind = iota
	BinaryFrame
)

// Frame is one message read from the upstream event stream.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// FrameConn is an open upstream event stream connection
type FrameConn interface {
	// ReadFrame blocks until the next text or binary message arrives. Any
	// error ends the connection.
	ReadFrame() (Frame, error)

	// Close releases the connection
	Close() error
}

// Dialer opens upstream event stream connections
type Dialer interface {
	Dial(ctx context.Context, url string) (FrameConn, error)
}

// Publisher accepts encoded downstream events. Publish must not block on
// slow consumers.
type Publisher interface {
	Publish(msg []byte)
}
