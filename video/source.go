package video

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/nuran-nahadi/Networking-Project/adapt"
)

const (
	baseWidth  = 1920
	baseHeight = 1080
)

// PatternSource generates an animated test pattern and encodes it at
// the configured tier's resolution.
//
// It satisfies the session's encoder interface: Reconfigure switches
// the output resolution and JPEG quality, and NextFrame produces one
// encoded frame at the current settings.
type PatternSource struct {
	mu sync.Mutex

	cfg     adapt.TierConfig
	quality int
	frameNo uint64

	base   *image.RGBA
	scaled *image.RGBA
	buf    bytes.Buffer
}

// NewPatternSource creates a source with no tier configured yet; the
// session applies the initial tier before the first frame is pulled.
func NewPatternSource() *PatternSource {
	return &PatternSource{
		base: image.NewRGBA(image.Rect(0, 0, baseWidth, baseHeight)),
	}
}

// Reconfigure switches the source to the given tier parameters.
func (p *PatternSource) Reconfigure(cfg adapt.TierConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid tier dimensions %dx%d", cfg.Width, cfg.Height)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cfg = cfg
	p.scaled = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	p.quality = jpegQuality(cfg.TargetBitrate)

	logrus.WithFields(logrus.Fields{
		"function": "Reconfigure",
		"tier":     cfg.Name,
		"width":    cfg.Width,
		"height":   cfg.Height,
		"quality":  p.quality,
	}).Info("Pattern source reconfigured")

	return nil
}

// NextFrame renders and encodes one frame at the current tier.
func (p *PatternSource) NextFrame() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scaled == nil {
		return nil, fmt.Errorf("no tier configured")
	}

	p.frameNo++
	p.renderLocked()

	draw.ApproxBiLinear.Scale(p.scaled, p.scaled.Bounds(), p.base, p.base.Bounds(), draw.Src, nil)

	p.buf.Reset()
	if err := jpeg.Encode(&p.buf, p.scaled, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	out := make([]byte, p.buf.Len())
	copy(out, p.buf.Bytes())
	return out, nil
}

// renderLocked draws a moving diagonal gradient with a phase that
// advances each frame, plus a white position marker, so consecutive
// frames are visually distinct and compress differently.
func (p *PatternSource) renderLocked() {
	phase := int(p.frameNo % 256)
	for y := 0; y < baseHeight; y++ {
		for x := 0; x < baseWidth; x++ {
			p.base.SetRGBA(x, y, color.RGBA{
				R: uint8((x + phase) % 256),
				G: uint8((y + phase*2) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}

	// Position marker sweeping left to right.
	markerX := int(p.frameNo*8) % (baseWidth - 64)
	for y := baseHeight/2 - 32; y < baseHeight/2+32; y++ {
		for x := markerX; x < markerX+64; x++ {
			p.base.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
}

// jpegQuality maps a tier's target bitrate onto a JPEG quality setting.
func jpegQuality(targetBitrate uint32) int {
	switch {
	case targetBitrate >= 4_000_000:
		return 90
	case targetBitrate >= 1_500_000:
		return 75
	case targetBitrate >= 400_000:
		return 60
	default:
		return 45
	}
}
