// Command streamserver serves an adaptive video stream: a synthetic
// test-pattern source per client, fragmented over UDP, with tier
// negotiation on a TCP control channel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nuran-nahadi/Networking-Project/adapt"
	appconfig "github.com/nuran-nahadi/Networking-Project/config"
	"github.com/nuran-nahadi/Networking-Project/session"
	"github.com/nuran-nahadi/Networking-Project/telemetry"
	"github.com/nuran-nahadi/Networking-Project/transport"
	"github.com/nuran-nahadi/Networking-Project/video"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var controlAddr string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "streamserver",
		Short: "Adaptive video streaming server",
		Long:  "streamserver sends a tiered test-pattern video stream over UDP and negotiates resolution tiers with each client over TCP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadServerConfig(configPath)
			if err != nil {
				return err
			}
			if controlAddr != "" {
				cfg.ControlAddr = controlAddr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			if err := configureLogging(cfg.LogLevel); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to server config file")
	cmd.Flags().StringVar(&controlAddr, "control-addr", "", "control channel listen address (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides config)")

	return cmd
}

func configureLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// server owns the shared listener, datagram socket, and per-client
// sessions with their frame sources.
type server struct {
	cfg      *appconfig.ServerConfig
	datagram *transport.DatagramEndpoint
	registry *session.Registry
	metrics  *telemetry.Metrics

	mu      sync.Mutex
	sources map[string]*video.PatternSource
}

func runServer(cfg *appconfig.ServerConfig) error {
	ladder, err := appconfig.ResolveLadder(cfg.Ladder)
	if err != nil {
		return err
	}
	initialTier, err := appconfig.ResolveTier(ladder, cfg.InitialTier)
	if err != nil {
		return err
	}

	datagram, err := transport.NewDatagramEndpoint(cfg.VideoBindAddr, cfg.MTU)
	if err != nil {
		return fmt.Errorf("bind video socket: %w", err)
	}
	defer datagram.Close()

	listener, err := transport.NewControlListener(cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("bind control listener: %w", err)
	}
	defer listener.Close()

	srv := &server{
		cfg:      cfg,
		datagram: datagram,
		registry: session.NewRegistry(),
		metrics:  telemetry.New(),
		sources:  make(map[string]*video.PatternSource),
	}
	defer srv.registry.CloseAll()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := srv.metrics.StartServer(cfg.MetricsAddr); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "runServer",
					"error":    err.Error(),
				}).Error("Metrics server stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener.Serve(func(conn *transport.ControlConn) {
		srv.accept(conn, ladder, initialTier)
	})
	go srv.framePump(ctx)

	logrus.WithFields(logrus.Fields{
		"function":     "runServer",
		"control_addr": listener.Addr().String(),
		"ladder":       cfg.Ladder,
		"initial_tier": cfg.InitialTier,
		"frame_rate":   cfg.FrameRate,
	}).Info("Server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logrus.WithFields(logrus.Fields{
		"function": "runServer",
		"signal":   sig.String(),
	}).Info("Shutting down")

	return nil
}

// accept wires one control connection into a streaming session with its
// own frame source.
func (srv *server) accept(conn *transport.ControlConn, ladder adapt.Ladder, initialTier adapt.Tier) {
	peer := conn.RemoteAddr().String()
	source := video.NewPatternSource()

	sess, err := session.NewServerSession(conn, srv.datagram, srv.cfg.ClientVideoPort, source, ladder, initialTier, &session.Config{MTU: srv.cfg.MTU})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "accept",
			"peer":     peer,
			"error":    err.Error(),
		}).Error("Rejecting connection")
		_ = conn.Close()
		return
	}

	sess.SetCloseCallback(func(s *session.ServerSession, reason error) {
		srv.registry.Remove(peer, s)
		srv.mu.Lock()
		delete(srv.sources, peer)
		srv.mu.Unlock()
		srv.metrics.ActiveSessions.Store(uint64(srv.registry.Len()))
	})

	if err := sess.Start(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "accept",
			"peer":     peer,
			"error":    err.Error(),
		}).Error("Session start failed")
		sess.Close()
		return
	}

	srv.registry.Add(peer, sess)
	srv.mu.Lock()
	srv.sources[peer] = source
	srv.mu.Unlock()

	srv.metrics.TotalSessions.Add(1)
	srv.metrics.ActiveSessions.Store(uint64(srv.registry.Len()))
}

// framePump drives every live session at the configured frame rate.
func (srv *server) framePump(ctx context.Context) {
	frameRate := srv.cfg.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(frameRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.registry.ForEach(func(peer string, sess *session.ServerSession) {
				srv.mu.Lock()
				source := srv.sources[peer]
				srv.mu.Unlock()
				if source == nil {
					return
				}

				payload, err := source.NextFrame()
				if err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "framePump",
						"peer":     peer,
						"error":    err.Error(),
					}).Warn("Frame generation failed")
					return
				}

				if err := sess.SendFrame(payload); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "framePump",
						"peer":     peer,
						"error":    err.Error(),
					}).Debug("Frame send failed")
					return
				}

				srv.metrics.FramesSent.Add(1)
				srv.metrics.BytesSent.Add(uint64(len(payload)))
				srv.metrics.SetCurrentTier(sess.CurrentTier())
			})
		}
	}
}
