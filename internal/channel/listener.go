// Package channel is the one-shot, authenticated link between a training
// process and the monitor. The listener accepts exactly one peer, then
// yields its messages in send order until the peer goes away.
package channel

import (
	"context"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultAddress          = "localhost:6000"
	DefaultAuthKey          = "sc19-visuals"
	DefaultHandshakeTimeout = 5 * time.Second
)

var (
	ErrAuthFailed      = errors.New("authentication failed")
	ErrChannelClosed   = errors.New("channel closed by peer")
	ErrReceiveTimeout  = errors.New("no message within receive timeout")
	ErrAlreadyAccepted = errors.New("listener already accepted its peer")
)

type State int

const (
	Connecting State = iota
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	default:
		return "closed"
	}
}

type Options struct {
	HandshakeTimeout time.Duration
	// ReceiveTimeout bounds each Receive; 0 waits forever.
	ReceiveTimeout time.Duration
	MaxFrame       int
	// Rejected is called for every candidate that fails the handshake.
	Rejected func(remote net.Addr, err error)
}

type Listener struct {
	ln      net.Listener
	authkey []byte
	opts    Options

	mu    sync.Mutex
	state State
}

// Listen binds the rendezvous address.
func Listen(addr, authkey string, opts Options) (*Listener, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = DefaultMaxFrame
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return &Listener{ln: ln, authkey: []byte(authkey), opts: opts}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Accept blocks until one peer connects and authenticates. Candidates
// that fail the handshake are dropped and the wait continues. Once a peer
// is accepted the listening socket is closed.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	l.mu.Lock()
	if l.state != Connecting {
		st := l.state
		l.mu.Unlock()
		return nil, errors.Wrapf(ErrAlreadyAccepted, "state %s", st)
	}
	l.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.ln.Close()
		case <-stop:
		}
	}()

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.setState(Closed)
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "accept")
		}
		entry := log.WithField("remote", nc.RemoteAddr().String())
		if err := l.handshake(nc); err != nil {
			entry.WithError(err).Warn("rejected channel candidate")
			_ = nc.Close()
			if l.opts.Rejected != nil {
				l.opts.Rejected(nc.RemoteAddr(), err)
			}
			continue
		}
		entry.Info("channel peer authenticated")
		l.setState(Streaming)
		_ = l.ln.Close()
		return newConn(nc, l.opts), nil
	}
}

func (l *Listener) handshake(nc net.Conn) error {
	if err := nc.SetDeadline(time.Now().Add(l.opts.HandshakeTimeout)); err != nil {
		return err
	}
	if err := deliverChallenge(nc, l.authkey); err != nil {
		return err
	}
	if err := answerChallenge(nc, l.authkey); err != nil {
		return err
	}
	return nc.SetDeadline(time.Time{})
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Close stops listening. It does not close an accepted Conn.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.state == Connecting {
		l.state = Closed
	}
	l.mu.Unlock()
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Conn is the accepted peer. It has a single reader.
type Conn struct {
	nc   net.Conn
	opts Options
}

func newConn(nc net.Conn, opts Options) *Conn {
	return &Conn{nc: nc, opts: opts}
}

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Receive blocks until the next message arrives. ErrChannelClosed is
// terminal.
func (c *Conn) Receive() (Message, error) {
	if c.opts.ReceiveTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.ReceiveTimeout)); err != nil {
			return Message{}, errors.Wrap(ErrChannelClosed, err.Error())
		}
	}
	frame, err := readFrame(c.nc, c.opts.MaxFrame)
	if err != nil {
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			return Message{}, errors.Wrapf(ErrReceiveTimeout, "after %s", c.opts.ReceiveTimeout)
		case closedByPeer(err):
			return Message{}, ErrChannelClosed
		}
		return Message{}, errors.Wrap(err, "receive")
	}
	payload, ok := decode(frame)
	if !ok {
		log.WithField("bytes", len(frame)).Debug("payload did not unpickle, treating as text")
	}
	return Classify(payload), nil
}

func (c *Conn) Close() error {
	return c.nc.Close()
}

func closedByPeer(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
