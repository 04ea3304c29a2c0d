package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
)

var ErrClosed = errors.New("stream closed")

// Writer serializes frames onto an underlying writer and closes it exactly
// once. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	once    sync.Once
	onClose func() error
}

// NewWriter wraps w. If w is an http.Flusher every frame is flushed; if it
// is an io.Closer it is closed by Close.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	if c, ok := w.(io.Closer); ok {
		sw.onClose = c.Close
	}
	return sw
}

// WriteChunk frames c. Chunks of unknown kind are dropped.
func (sw *Writer) WriteChunk(c Chunk) error {
	frame, ok, err := Encode(c)
	if err != nil || !ok {
		return err
	}
	return sw.write(frame)
}

// WriteError writes the terminal error frame if the stream is still open.
func (sw *Writer) WriteError(message string) error {
	return sw.write(EncodeError(message))
}

func (sw *Writer) write(frame []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrClosed
	}

	if _, err := sw.w.Write(frame); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}

	return nil
}

func (sw *Writer) Closed() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.closed
}

// Close ends the stream. Only the first call has any effect.
func (sw *Writer) Close() error {
	var err error
	sw.once.Do(func() {
		sw.mu.Lock()
		sw.closed = true
		fn := sw.onClose
		sw.mu.Unlock()

		if fn != nil {
			err = fn()
		}
	})
	return err
}

// Pump writes chunks from ch in order until ch is closed. After a write
// failure the remaining chunks are drained so the producer never blocks;
// the first error is returned.
func Pump(ctx context.Context, ch <-chan Chunk, sw *Writer) error {
	return pump(ctx, ch, sw, nil)
}

// PumpCancel is Pump for producers that send with ctx: the first write
// failure calls cancel, so a producer whose client has gone stops early.
func PumpCancel(ctx context.Context, ch <-chan Chunk, sw *Writer, cancel context.CancelFunc) error {
	return pump(ctx, ch, sw, cancel)
}

func pump(ctx context.Context, ch <-chan Chunk, sw *Writer, cancel context.CancelFunc) error {
	var firstErr error

	for {
		select {
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			return firstErr
		case c, ok := <-ch:
			if !ok {
				return firstErr
			}
			if firstErr != nil {
				continue
			}
			if err := sw.WriteChunk(c); err != nil {
				firstErr = err
				if cancel != nil {
					cancel()
				}
			}
		}
	}
}

// Send delivers c unless ctx is done first.
func Send(ctx context.Context, ch chan<- Chunk, c Chunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- c:
		return nil
	}
}
