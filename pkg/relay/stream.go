package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jingkaihe/mocklock/pkg/api"
)

type received struct {
	msg *api.Message
	err error
}

// countingWriter records how many bytes the current frame put on the wire.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += n
	return n, err
}

// streamPort is a Port over a byte stream. A single reader goroutine
// decodes frames so Receive can honour its context.
type streamPort struct {
	conn io.ReadWriteCloser

	writeMu sync.Mutex
	out     *countingWriter
	enc     Encoder

	in        chan received
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewStreamPort wraps conn with codec. The port owns conn and closes it on
// Close.
func NewStreamPort(conn io.ReadWriteCloser, codec Codec) Port {
	if codec == nil {
		codec = JSONCodec{}
	}
	out := &countingWriter{w: conn}
	p := &streamPort{
		conn:   conn,
		out:    out,
		enc:    codec.NewEncoder(out),
		in:     make(chan received),
		closed: make(chan struct{}),
	}
	go p.readLoop(codec.NewDecoder(conn))
	return p
}

func (p *streamPort) readLoop(dec Decoder) {
	for {
		msg := &api.Message{}
		err := dec.Decode(msg)
		if err != nil {
			msg = nil
		}
		select {
		case p.in <- received{msg: msg, err: err}:
		case <-p.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (p *streamPort) Post(ctx context.Context, msg *api.Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if nc, ok := p.conn.(net.Conn); ok {
		deadline, _ := ctx.Deadline()
		_ = nc.SetWriteDeadline(deadline)
		stop := context.AfterFunc(ctx, func() {
			_ = nc.SetWriteDeadline(time.Now())
		})
		defer stop()
	}
	p.out.n = 0
	if err := p.enc.Encode(msg); err != nil {
		// A partial frame leaves the stream unusable. A frame that never
		// reached the wire does not.
		if p.out.n > 0 {
			_ = p.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return err
	}
	return nil
}

func (p *streamPort) Receive(ctx context.Context) (*api.Message, error) {
	select {
	case <-p.closed:
		return nil, io.EOF
	default:
	}
	select {
	case r := <-p.in:
		if r.err != nil && isClosedErr(r.err) {
			return nil, io.EOF
		}
		return r.msg, r.err
	case <-p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *streamPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
