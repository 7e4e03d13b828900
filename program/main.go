package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	tui "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/keilerkonzept/live-score-monitor/internal/animator"
	"github.com/keilerkonzept/live-score-monitor/internal/channel"
	"github.com/keilerkonzept/live-score-monitor/internal/config"
	"github.com/keilerkonzept/live-score-monitor/internal/logparse"
	"github.com/keilerkonzept/live-score-monitor/internal/metrics"
	"github.com/keilerkonzept/live-score-monitor/internal/series"
	"github.com/keilerkonzept/live-score-monitor/internal/snapshot"
	"github.com/keilerkonzept/live-score-monitor/internal/traffic"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stdout, "Usage of %s:\n%s", os.Args[0], config.Usage())
		os.Exit(0)
	}
	if err != nil {
		log.Fatal(err)
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	logOut, closeLog, err := openLog(cfg.LogFile)
	if err != nil {
		log.Fatal(err)
	}
	defer closeLog()
	log.SetOutput(logOut)

	reg, err := loadRegistry(cfg)
	if err != nil {
		fatalLoad(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exporter *metrics.Exporter
	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		exporter = metrics.NewExporter(promReg)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, promReg); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}
	st := metrics.NewStats(cfg.StatsWindow, exporter)

	chOpts := cfg.ChannelOptions()
	chOpts.Rejected = func(net.Addr, error) { st.ObserveRejected() }
	listener, err := channel.Listen(cfg.Addr, cfg.AuthKey, chOpts)
	if err != nil {
		log.Fatal(err)
	}
	defer listener.Close()

	headless := cfg.Headless
	if !headless && !term.IsTerminal(os.Stdout.Fd()) {
		if cfg.SnapshotDir == "" {
			log.Fatal("stdout is not a terminal; use --headless with --snapshot-dir")
		}
		log.Info("stdout is not a terminal, rendering headless")
		headless = true
	}

	if headless {
		err = runHeadless(ctx, cfg, reg, listener, st)
	} else {
		err = runUI(ctx, cfg, reg, listener, st)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// openLog resolves where logs go. Without --log-file they go to stderr;
// runUI discards them while the terminal is taken over.
func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

func loadRegistry(cfg *config.Config) (*series.Registry, error) {
	files, err := cfg.LogFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no log files found")
	}
	opts := cfg.ParseOptions()
	reg := series.NewRegistry()
	for _, path := range files {
		s, err := logparse.Parse(path, opts)
		if err != nil {
			return nil, err
		}
		slot, err := reg.Register(s)
		if err != nil {
			return nil, errors.Wrapf(err, "register %s", path)
		}
		log.WithFields(log.Fields{
			"slot":   slot,
			"file":   path,
			"points": s.Len(),
			"span":   s.Span(),
		}).Info("series loaded")
	}
	return reg, nil
}

// fatalLoad reports a load failure with its location, before any window
// is opened.
func fatalLoad(err error) {
	var pe *logparse.ParseError
	var fe *logparse.FormatError
	switch {
	case errors.As(err, &fe):
		log.WithFields(log.Fields{"file": fe.Path, "line": fe.Line, "field": fe.Field, "value": fe.Value}).
			WithError(fe.Err).Fatal("malformed log value")
	case errors.As(err, &pe):
		log.WithFields(log.Fields{"file": pe.Path, "line": pe.Line, "field": pe.Field}).
			WithError(pe.Err).Fatal("cannot parse log")
	default:
		log.WithError(err).Fatal("cannot load logs")
	}
}

func runHeadless(ctx context.Context, cfg *config.Config, reg *series.Registry, listener *channel.Listener, st *metrics.Stats) error {
	surface, err := snapshot.NewSurface(cfg.SnapshotDir, snapshot.DefaultWidth, snapshot.DefaultHeight)
	if err != nil {
		return err
	}
	anim := animator.New(reg, surface, st)
	if err := anim.Initialize(cfg.Bounds()); err != nil {
		return err
	}

	log.WithField("addr", listener.Addr().String()).Info("waiting for producer")
	conn, err := listener.Accept(ctx)
	if err != nil {
		_ = anim.Close()
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	tr := traffic.New(traffic.Config{Window: cfg.TrafficWindow})
	if err := animator.Run(ctx, anim, observed{conn, tr}, cfg.FramePause); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"frames": surface.Frames(),
		"last":   surface.Last(),
		"top":    tr.Top(time.Now(), 0),
	}).Info("done")
	return nil
}

// observed feeds every received payload to the traffic tracker.
type observed struct {
	conn *channel.Conn
	tr   *traffic.Tracker
}

func (o observed) Receive() (channel.Message, error) {
	msg, err := o.conn.Receive()
	if err == nil {
		o.tr.Observe(msg.Payload, time.Now())
	}
	return msg, err
}

func runUI(ctx context.Context, cfg *config.Config, reg *series.Registry, listener *channel.Listener, st *metrics.Stats) error {
	if cfg.LogFile == "" {
		log.SetOutput(io.Discard)
	}
	tr := traffic.New(traffic.Config{Window: cfg.TrafficWindow})
	m, err := newModel(ctx, cfg, reg, listener, st, tr)
	if err != nil {
		return err
	}
	defer m.shutdown()

	opts := []tui.ProgramOption{tui.WithInputTTY(), tui.WithContext(ctx)}
	if cfg.AltScreen {
		opts = append(opts, tui.WithAltScreen())
	}
	if _, err := tui.NewProgram(m, opts...).Run(); err != nil {
		if errors.Is(err, tui.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return m.err
}
