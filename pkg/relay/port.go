// Package relay carries match queries from a shim to the rule authority
// and carries decisions and change notifications back.
package relay

import (
	"context"
	"io"
	"sync"

	"github.com/jingkaihe/mocklock/pkg/api"
)

// Port is one end of a message channel between execution contexts.
// Receive returns io.EOF once the port is closed.
type Port interface {
	Post(ctx context.Context, msg *api.Message) error
	Receive(ctx context.Context) (*api.Message, error)
	Close() error
}

const pipeBuffer = 64

type pipePort struct {
	in     <-chan *api.Message
	out    chan<- *api.Message
	closed <-chan struct{}
	close  func()
}

// Pipe returns two connected in-memory ports. Closing either end closes
// both.
func Pipe() (Port, Port) {
	ab := make(chan *api.Message, pipeBuffer)
	ba := make(chan *api.Message, pipeBuffer)
	closed := make(chan struct{})
	var once sync.Once
	closeFn := func() { once.Do(func() { close(closed) }) }

	a := &pipePort{in: ba, out: ab, closed: closed, close: closeFn}
	b := &pipePort{in: ab, out: ba, closed: closed, close: closeFn}
	return a, b
}

func (p *pipePort) Post(ctx context.Context, msg *api.Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg.Clone():
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipePort) Receive(ctx context.Context) (*api.Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipePort) Close() error {
	p.close()
	return nil
}
