// Command nudge is a producer for the score monitor: it connects to the
// monitor's channel and sends control messages, "next" by default.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/keilerkonzept/live-score-monitor/internal/channel"
)

type options struct {
	Addr        string
	AuthKey     string
	Interval    time.Duration
	Count       int
	Payload     string
	Stdin       bool
	DialTimeout time.Duration
	LogLevel    string
}

func main() {
	var opts options
	pflag.StringVar(&opts.Addr, "addr", channel.DefaultAddress, "Monitor channel address")
	pflag.StringVar(&opts.AuthKey, "authkey", channel.DefaultAuthKey, "Shared token")
	pflag.DurationVar(&opts.Interval, "interval", time.Second, "Pause between messages")
	pflag.IntVar(&opts.Count, "count", 0, "Stop after this many messages (0 = until interrupted)")
	pflag.StringVar(&opts.Payload, "payload", channel.AdvanceToken, "Message to send")
	pflag.BoolVar(&opts.Stdin, "stdin", false, "Send one message per input line instead of --payload")
	pflag.DurationVar(&opts.DialTimeout, "dial-timeout", 30*time.Second, "Give up connecting after this long")
	pflag.StringVar(&opts.LogLevel, "log-level", "info", "Log level")
	pflag.Parse()

	level, err := log.ParseLevel(opts.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := channel.Dial(ctx, opts.Addr, opts.AuthKey, channel.DialOptions{MaxElapsed: opts.DialTimeout})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()
	log.WithField("addr", opts.Addr).Info("connected")

	if opts.Stdin {
		err = sendLines(ctx, client, opts)
	} else {
		err = sendRepeated(ctx, client, opts)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func sendRepeated(ctx context.Context, client *channel.Client, opts options) error {
	ticker := time.NewTicker(max(opts.Interval, time.Millisecond))
	defer ticker.Stop()
	for sent := 0; opts.Count == 0 || sent < opts.Count; sent++ {
		if sent > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		if err := client.Send(opts.Payload); err != nil {
			return err
		}
		log.WithFields(log.Fields{"payload": opts.Payload, "n": sent + 1}).Debug("sent")
	}
	return nil
}

func sendLines(ctx context.Context, client *channel.Client, opts options) error {
	sc := bufio.NewScanner(os.Stdin)
	sent := 0
	for sc.Scan() && ctx.Err() == nil {
		payload := strings.TrimSpace(sc.Text())
		if payload == "" {
			continue
		}
		if err := client.Send(payload); err != nil {
			return err
		}
		sent++
		if opts.Count > 0 && sent >= opts.Count {
			break
		}
	}
	return sc.Err()
}
