package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/nuran-nahadi/Networking-Project/session"
)

// dashboard renders live session telemetry using pterm primitives.
type dashboard struct {
	sess     *session.ClientSession
	renderer *statsRenderer
	interval time.Duration

	mu     sync.Mutex
	area   *pterm.AreaPrinter
	ticker *time.Ticker
	cancel context.CancelFunc
	active bool
}

func newDashboard(sess *session.ClientSession, renderer *statsRenderer) *dashboard {
	return &dashboard{
		sess:     sess,
		renderer: renderer,
		interval: 500 * time.Millisecond,
	}
}

// Start begins rendering the live board.
func (d *dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	d.ticker = time.NewTicker(d.interval)
	d.cancel = cancel
	d.active = true
	d.mu.Unlock()

	area, err := pterm.DefaultArea.WithRemoveWhenDone(false).Start()
	if err != nil {
		d.Stop()
		return err
	}
	d.mu.Lock()
	d.area = area
	d.mu.Unlock()

	go d.loop(ctx)
	return nil
}

func (d *dashboard) loop(ctx context.Context) {
	d.render()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.ticker.C:
			d.render()
		}
	}
}

// Stop tears the live board down, leaving the last frame on screen.
func (d *dashboard) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.active = false
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
	if d.area != nil {
		_ = d.area.Stop()
		d.area = nil
	}
}

func (d *dashboard) render() {
	content := d.renderContent()

	d.mu.Lock()
	area := d.area
	d.mu.Unlock()
	if area != nil {
		area.Update(content)
	}
}

func (d *dashboard) renderContent() string {
	sample := d.sess.Monitor().Latest()
	ctrl := d.sess.Controller()
	tier := ctrl.CurrentTier()
	tierCfg, _ := ctrl.Ladder().Config(tier)
	completed, dropped := d.sess.FrameCounts()
	width, height, lastFrame, bad := d.renderer.snapshot()

	header := pterm.DefaultHeader.
		WithBackgroundStyle(pterm.NewStyle(pterm.BgBlue)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightWhite, pterm.Bold)).
		WithFullWidth().
		Sprint("Stream Quality")

	data := pterm.TableData{
		{"Metric", "Value"},
		{"Tier", fmt.Sprintf("%s (%dx%d)", ctrl.Ladder().Name(tier), tierCfg.Width, tierCfg.Height)},
		{"Latency", fmt.Sprintf("%.1f ms", sample.LatencyMs)},
		{"Jitter", fmt.Sprintf("%.1f ms", sample.JitterMs)},
		{"Loss", fmt.Sprintf("%.2f %%", sample.LossRatio*100)},
		{"Throughput", formatBps(sample.ThroughputBps)},
		{"Frames OK", fmt.Sprintf("%d", completed)},
		{"Frames Dropped", fmt.Sprintf("%d", dropped)},
		{"Bad Payloads", fmt.Sprintf("%d", bad)},
		{"Last Frame", fmt.Sprintf("#%d (%dx%d)", lastFrame, width, height)},
		{"Tier Changes", fmt.Sprintf("%d", len(ctrl.History()))},
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return header
	}

	return fmt.Sprintf("%s\n%s", header, table)
}

func formatBps(bps float64) string {
	switch {
	case bps >= 1_000_000:
		return fmt.Sprintf("%.2f MB/s", bps/1_000_000)
	case bps >= 1_000:
		return fmt.Sprintf("%.2f KB/s", bps/1_000)
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}
