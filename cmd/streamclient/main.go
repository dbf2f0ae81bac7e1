// Command streamclient receives an adaptive video stream: it reassembles
// frames arriving over UDP, measures link quality, and requests tier
// changes on the TCP control channel when the link degrades or recovers.
package main

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nuran-nahadi/Networking-Project/adapt"
	appconfig "github.com/nuran-nahadi/Networking-Project/config"
	"github.com/nuran-nahadi/Networking-Project/fragment"
	"github.com/nuran-nahadi/Networking-Project/quality"
	"github.com/nuran-nahadi/Networking-Project/session"
	"github.com/nuran-nahadi/Networking-Project/telemetry"
	"github.com/nuran-nahadi/Networking-Project/transport"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var serverAddr string
	var metricsAddr string
	var noDashboard bool

	cmd := &cobra.Command{
		Use:   "streamclient",
		Short: "Adaptive video streaming client",
		Long:  "streamclient connects to a streamserver, renders the incoming frame stream, and adapts the resolution tier to measured network quality.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadClientConfig(configPath)
			if err != nil {
				return err
			}
			if serverAddr != "" {
				cfg.ServerAddr = serverAddr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			if noDashboard {
				cfg.Dashboard = false
			}
			if err := configureLogging(cfg.LogLevel, cfg.Dashboard); err != nil {
				return err
			}
			return runClient(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to client config file")
	cmd.Flags().StringVarP(&serverAddr, "server", "s", "", "server control address (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides config)")
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "disable the live metrics dashboard")

	return cmd
}

func configureLogging(level string, dashboard bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	if dashboard {
		// Log lines would fight the live display for the terminal.
		logrus.SetLevel(logrus.ErrorLevel)
	}
	return nil
}

// statsRenderer is the display stand-in: it validates each frame's JPEG
// header and tracks the latest decoded dimensions for the dashboard.
type statsRenderer struct {
	mu         sync.Mutex
	lastWidth  int
	lastHeight int
	lastFrame  uint32
	badFrames  uint64
}

func (r *statsRenderer) RenderFrame(frame *fragment.Frame) error {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Payload))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFrame = frame.FrameID
	if err != nil {
		// A frame that survived reassembly but fails to parse is a
		// payload problem, not a session problem.
		r.badFrames++
		return nil
	}
	r.lastWidth = cfg.Width
	r.lastHeight = cfg.Height
	return nil
}

func (r *statsRenderer) snapshot() (width, height int, lastFrame uint32, bad uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastWidth, r.lastHeight, r.lastFrame, r.badFrames
}

func runClient(cfg *appconfig.ClientConfig) error {
	ladder, err := appconfig.ResolveLadder(cfg.Ladder)
	if err != nil {
		return err
	}
	initialTier, err := appconfig.ResolveTier(ladder, cfg.InitialTier)
	if err != nil {
		return err
	}

	datagram, err := transport.NewDatagramEndpoint(cfg.VideoBindAddr, 0)
	if err != nil {
		return fmt.Errorf("bind video socket: %w", err)
	}

	control, err := transport.DialControl(cfg.ServerAddr)
	if err != nil {
		_ = datagram.Close()
		return fmt.Errorf("dial control channel: %w", err)
	}

	renderer := &statsRenderer{}
	monitor := quality.NewMonitor(nil)
	controller := adapt.NewController(nil, ladder, initialTier)
	metrics := telemetry.New()

	sess := session.NewClientSession(control, datagram, renderer, monitor, controller, nil)

	sess.SetSampleCallback(func(s quality.Sample) {
		metrics.RecordSample(s)
	})
	sess.SetTierChangeCallback(func(from, to adapt.Tier) {
		metrics.RecordTierChange(from, to)
	})
	metrics.SetCurrentTier(initialTier)

	closed := make(chan error, 1)
	sess.SetCloseCallback(func(_ *session.ClientSession, reason error) {
		closed <- reason
	})

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.StartServer(cfg.MetricsAddr); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "runClient",
					"error":    err.Error(),
				}).Error("Metrics server stopped")
			}
		}()
	}

	if err := sess.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dash *dashboard
	if cfg.Dashboard {
		dash = newDashboard(sess, renderer)
		if err := dash.Start(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runClient",
				"error":    err.Error(),
			}).Warn("Dashboard unavailable")
			dash = nil
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var reason error
	select {
	case sig := <-sigChan:
		logrus.WithFields(logrus.Fields{
			"function": "runClient",
			"signal":   sig.String(),
		}).Info("Shutting down")
	case reason = <-closed:
	}

	if dash != nil {
		dash.Stop()
	}
	sess.Close()

	if reason != nil {
		return fmt.Errorf("session ended: %w", reason)
	}
	return nil
}
