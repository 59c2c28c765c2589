// Package render draws level cards as PNG images.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"levelbot/cardcache"
	"levelbot/core"
)

const (
	CardWidth  = 480
	CardHeight = 160

	barX      = 24
	barY      = 104
	barWidth  = CardWidth - 2*barX
	barHeight = 18
)

var (
	background = color.NRGBA{R: 0x1e, G: 0x21, B: 0x2b, A: 0xff}
	panel      = color.NRGBA{R: 0x2c, G: 0x31, B: 0x3f, A: 0xff}
	accent     = color.NRGBA{R: 0x4c, G: 0xc3, B: 0x8a, A: 0xff}
	muted      = color.NRGBA{R: 0xa0, G: 0xa6, B: 0xb8, A: 0xff}
	gold       = color.NRGBA{R: 0xf2, G: 0xc1, B: 0x4e, A: 0xff}
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Renderer draws cards and, when Dir is set, writes each one to a file so
// chat transports can upload it by path.
type Renderer struct {
	Dir    string
	Logger *slog.Logger
	Now    func() time.Time
}

func New(dir string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{Dir: dir, Logger: logger, Now: time.Now}
}

// Render implements engine.CardRenderer.
func (r *Renderer) Render(ctx context.Context, data core.CardData) (core.Card, error) {
	if err := ctx.Err(); err != nil {
		return core.Card{}, err
	}
	img := Draw(data)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return core.Card{}, fmt.Errorf("encode card: %w", err)
	}
	card := core.Card{Image: buf.Bytes()}
	if r.Dir == "" {
		return card, nil
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return core.Card{}, fmt.Errorf("card dir: %w", err)
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	name := fmt.Sprintf("level_%s_%d.png", unsafeName.ReplaceAllString(string(data.UserID), "_"), now().UnixNano())
	card.Path = filepath.Join(r.Dir, name)
	if err := os.WriteFile(card.Path, card.Image, 0o644); err != nil {
		return core.Card{}, fmt.Errorf("write card: %w", err)
	}
	return card, nil
}

// Evict removes the file behind an evicted cache entry. It matches the
// cardcache OnEvict signature.
func (r *Renderer) Evict(user core.UserID, e cardcache.Entry) {
	if e.Path == "" {
		return
	}
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		r.logger().Warn("remove level card", "user", user, "path", e.Path, "error", err)
	}
}

func (r *Renderer) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Draw paints the card for data.
func Draw(data core.CardData) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	fill(img, img.Bounds(), background)
	fill(img, image.Rect(12, 12, CardWidth-12, CardHeight-12), panel)

	name := data.Name
	if name == "" {
		name = core.DefaultName
	}
	text(img, barX, 36, name, color.White)
	text(img, barX, 58, fmt.Sprintf("Level %d  %s", data.Level, data.RankTitle), accent)
	if data.Rank > 0 {
		rank := fmt.Sprintf("#%d", data.Rank)
		text(img, CardWidth-barX-width(rank), 36, rank, gold)
	}
	coins := fmt.Sprintf("%d coins", data.Coins)
	text(img, CardWidth-barX-width(coins), 58, coins, gold)
	text(img, barX, 94, fmt.Sprintf("XP %d / %d", data.XP, data.RequiredXP), muted)

	fill(img, image.Rect(barX, barY, barX+barWidth, barY+barHeight), background)
	pct := min(max(data.ProgressPercent, 0), 100)
	if filled := barWidth * pct / 100; filled > 0 {
		fill(img, image.Rect(barX, barY, barX+filled, barY+barHeight), accent)
	}
	label := fmt.Sprintf("%d%%", pct)
	text(img, barX+(barWidth-width(label))/2, barY+13, label, color.White)
	return img
}

func fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func text(img draw.Image, x, y int, s string, c color.Color) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func width(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Round()
}
