// Package teaser renders the shareable preview image for a finished scan and
// publishes it to blob storage.
package teaser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"path"
	"time"

	"github.com/fogleman/gg"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/pagegauge/pagegauge/internal/a11y"
	"github.com/pagegauge/pagegauge/internal/metrics"
)

const (
	maxMarkers = 3
	// Marker rects smaller than this are almost always tracking pixels or
	// collapsed elements; circling them produces confusing noise.
	minMarkerArea = 100.0
)

// Config sizes the rendered image and controls where it is published.
type Config struct {
	Width         int
	Height        int
	KeyPrefix     string
	SignedURLTTL  time.Duration
	TopIssueCount int
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 1200
	}
	if c.Height <= 0 {
		c.Height = 630
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "teasers"
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = 7 * 24 * time.Hour
	}
	if c.TopIssueCount <= 0 {
		c.TopIssueCount = 5
	}
	return c
}

// Generator composes the teaser image from the first screenshotted page and
// the aggregate scan findings.
type Generator struct {
	blobs  a11y.BlobStore
	cfg    Config
	logger *zap.Logger

	scoreFace font.Face
	titleFace font.Face
	bodyFace  font.Face
}

// New builds a Generator with embedded fonts.
func New(blobs a11y.BlobStore, cfg Config, logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}

	newFace := func(f *opentype.Font, size float64) (font.Face, error) {
		return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	}
	scoreFace, err := newFace(bold, 112)
	if err != nil {
		return nil, fmt.Errorf("build score face: %w", err)
	}
	titleFace, err := newFace(bold, 30)
	if err != nil {
		return nil, fmt.Errorf("build title face: %w", err)
	}
	bodyFace, err := newFace(regular, 22)
	if err != nil {
		return nil, fmt.Errorf("build body face: %w", err)
	}

	return &Generator{
		blobs:     blobs,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		scoreFace: scoreFace,
		titleFace: titleFace,
		bodyFace:  bodyFace,
	}, nil
}

// Generate renders, uploads and signs the teaser. Any failure is absorbed and
// reported as a nil teaser so the scan itself never fails on preview
// artifacts. overrideScore, when non-nil, replaces the score derived from
// pages. Severity counts come from the source page alone; top issues span
// all pages.
func (g *Generator) Generate(ctx context.Context, source *a11y.PageScanResult, pages []a11y.PageResult, overrideScore *int) *a11y.Teaser {
	if source == nil || len(source.Screenshot) == 0 || source.Page == nil {
		metrics.ObserveTeaser("skipped")
		return nil
	}

	shot, err := png.Decode(bytes.NewReader(source.Screenshot))
	if err != nil {
		g.logger.Warn("teaser skipped, screenshot not decodable",
			zap.String("url", source.URL), zap.Error(err))
		metrics.ObserveTeaser("skipped")
		return nil
	}

	score := a11y.ScorePages(pages)
	if overrideScore != nil {
		score = *overrideScore
	}
	composite := g.render(shot, source.Page.Issues, score, severityCounts(source.Page.Issues))

	var buf bytes.Buffer
	if err := png.Encode(&buf, composite); err != nil {
		g.logger.Error("teaser encode failed", zap.Error(err))
		metrics.ObserveTeaser("skipped")
		return nil
	}

	key := path.Join(g.cfg.KeyPrefix, uuid.NewString()+".png")
	if err := g.blobs.Upload(ctx, key, "image/png", buf.Bytes()); err != nil {
		g.logger.Warn("teaser upload failed", zap.String("key", key), zap.Error(err))
		metrics.ObserveTeaser("upload_failed")
		return nil
	}
	signedURL, err := g.blobs.SignedURL(ctx, key, g.cfg.SignedURLTTL)
	if err != nil {
		g.logger.Warn("teaser signing failed", zap.String("key", key), zap.Error(err))
		metrics.ObserveTeaser("upload_failed")
		return nil
	}

	metrics.ObserveTeaser("generated")
	return &a11y.Teaser{
		ImageURL:  signedURL,
		TopIssues: TopIssues(pages, g.cfg.TopIssueCount),
	}
}

// render draws the screenshot on the left half with issue markers and the
// scorecard on the right half.
func (g *Generator) render(shot image.Image, issues []a11y.Issue, score int, counts map[a11y.Severity]int) image.Image {
	dc := gg.NewContext(g.cfg.Width, g.cfg.Height)
	dc.SetRGB255(246, 247, 249)
	dc.Clear()

	panelWidth := g.cfg.Width / 2
	scaled, scale := scaleToFit(shot, panelWidth, g.cfg.Height)
	offsetX := (panelWidth - scaled.Bounds().Dx()) / 2
	offsetY := (g.cfg.Height - scaled.Bounds().Dy()) / 2
	dc.DrawImage(scaled, offsetX, offsetY)

	for _, rect := range markerRects(issues, maxMarkers) {
		cx := float64(offsetX) + (rect.X+rect.Width/2)*scale
		cy := float64(offsetY) + (rect.Y+rect.Height/2)*scale
		radius := clampFloat((rect.Width+rect.Height)/4*scale, 14, 48)
		dc.SetRGBA255(220, 38, 38, 230)
		dc.SetLineWidth(5)
		dc.DrawCircle(cx, cy, radius)
		dc.Stroke()
	}

	cardX := float64(panelWidth)
	cardCenterX := cardX + float64(g.cfg.Width-panelWidth)/2

	dc.SetRGB255(255, 255, 255)
	dc.DrawRectangle(cardX, 0, float64(g.cfg.Width-panelWidth), float64(g.cfg.Height))
	dc.Fill()

	dc.SetFontFace(g.titleFace)
	dc.SetRGB255(30, 41, 59)
	dc.DrawStringAnchored("Accessibility Score", cardCenterX, 80, 0.5, 0.5)

	r, gr, b := scoreColor(score)
	dc.SetFontFace(g.scoreFace)
	dc.SetRGB255(r, gr, b)
	dc.DrawStringAnchored(fmt.Sprintf("%d", score), cardCenterX, 190, 0.5, 0.5)

	dc.SetFontFace(g.bodyFace)
	dc.SetRGB255(71, 85, 105)
	dc.DrawStringAnchored("out of 100", cardCenterX, 262, 0.5, 0.5)

	y := 340.0
	for _, severity := range []a11y.Severity{
		a11y.SeverityCritical, a11y.SeveritySerious, a11y.SeverityModerate, a11y.SeverityMinor,
	} {
		sr, sg, sb := severityColor(severity)
		dc.SetRGB255(sr, sg, sb)
		dc.DrawCircle(cardX+70, y-7, 7)
		dc.Fill()
		dc.SetRGB255(51, 65, 85)
		dc.DrawStringAnchored(fmt.Sprintf("%d %s", counts[severity], severity), cardX+95, y, 0, 0.5)
		y += 46
	}

	dc.SetRGB255(148, 163, 184)
	dc.DrawStringAnchored("pagegauge.dev", cardCenterX, float64(g.cfg.Height)-46, 0.5, 0.5)

	return dc.Image()
}

// markerRects selects up to max high-severity rects worth circling.
func markerRects(issues []a11y.Issue, max int) []a11y.NodeRect {
	rects := make([]a11y.NodeRect, 0, max)
	for _, issue := range issues {
		if issue.Severity.Rank() < a11y.SeveritySerious.Rank() {
			continue
		}
		if issue.Rect == nil || issue.Rect.Area() < minMarkerArea {
			continue
		}
		rects = append(rects, *issue.Rect)
		if len(rects) == max {
			break
		}
	}
	return rects
}

// scaleToFit shrinks src to fit the box while preserving aspect ratio,
// returning the scaled image and the applied factor.
func scaleToFit(src image.Image, boxWidth, boxHeight int) (image.Image, float64) {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return src, 1
	}

	scale := minFloat(float64(boxWidth)/float64(srcW), float64(boxHeight)/float64(srcH))
	if scale >= 1 {
		return src, 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, int(float64(srcW)*scale), int(float64(srcH)*scale)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst, scale
}

func severityCounts(issues []a11y.Issue) map[a11y.Severity]int {
	counts := make(map[a11y.Severity]int, 4)
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	return counts
}

func scoreColor(score int) (int, int, int) {
	switch {
	case score >= 90:
		return 22, 163, 74
	case score >= 70:
		return 217, 119, 6
	default:
		return 220, 38, 38
	}
}

func severityColor(s a11y.Severity) (int, int, int) {
	switch s {
	case a11y.SeverityCritical:
		return 220, 38, 38
	case a11y.SeveritySerious:
		return 234, 88, 12
	case a11y.SeverityModerate:
		return 217, 119, 6
	default:
		return 100, 116, 139
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
