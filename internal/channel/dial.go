package channel

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type DialOptions struct {
	// MaxElapsed stops retrying after this long; 0 retries until ctx ends.
	MaxElapsed       time.Duration
	HandshakeTimeout time.Duration
}

// Client is the producer end of the channel.
type Client struct {
	nc net.Conn
}

// Dial connects to a monitor, retrying with exponential backoff while it
// is not listening yet. A rejected token is not retried.
func Dial(ctx context.Context, addr, authkey string, opts DialOptions) (*Client, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	key := []byte(authkey)

	var nc net.Conn
	attempt := 0
	op := func() error {
		attempt++
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Debug("monitor not reachable yet")
			return err
		}
		if err := clientHandshake(c, key, opts.HandshakeTimeout); err != nil {
			_ = c.Close()
			if errors.Is(err, ErrAuthFailed) {
				return backoff.Permanent(err)
			}
			return err
		}
		nc = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.MaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &Client{nc: nc}, nil
}

func clientHandshake(nc net.Conn, key []byte, timeout time.Duration) error {
	if err := nc.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if err := answerChallenge(nc, key); err != nil {
		return err
	}
	if err := deliverChallenge(nc, key); err != nil {
		return err
	}
	return nc.SetDeadline(time.Time{})
}

// Send writes one payload as a raw text frame.
func (c *Client) Send(payload string) error {
	return errors.Wrap(writeFrame(c.nc, []byte(payload)), "send")
}

// Next sends the advance token.
func (c *Client) Next() error {
	return c.Send(AdvanceToken)
}

// SendFrame writes already encoded bytes, e.g. a pickle.
func (c *Client) SendFrame(b []byte) error {
	return errors.Wrap(writeFrame(c.nc, b), "send")
}

func (c *Client) Close() error {
	return c.nc.Close()
}
