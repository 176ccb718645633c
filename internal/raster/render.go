package raster

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Letter-size page in inches; canvas pixels scale with dpi.
const (
	pageWidthInches  = 8.5
	pageHeightInches = 11.0
	marginPixels     = 36
)

// RenderPage draws the page text onto a white letter-size canvas at the given
// dpi. The same (text, dpi) pair always produces the same image, which keeps
// content-derived embeddings stable across re-ingests.
func RenderPage(text string, dpi int) *image.RGBA {
	width := int(pageWidthInches * float64(dpi))
	height := int(pageHeightInches * float64(dpi))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}

	lineHeight := face.Metrics().Height.Ceil() + 2
	maxWidth := width - 2*marginPixels
	y := marginPixels + face.Metrics().Ascent.Ceil()
	for _, line := range wrapLines(text, maxWidth/face.Advance) {
		if y > height-marginPixels {
			break
		}
		drawer.Dot = fixed.P(marginPixels, y)
		drawer.DrawString(line)
		y += lineHeight
	}
	return img
}

// wrapLines splits text into display lines of at most maxChars characters,
// breaking on whitespace where possible.
func wrapLines(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = 80
	}
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, " \t")
		if raw == "" {
			lines = append(lines, "")
			continue
		}
		words := strings.Fields(raw)
		var current string
		for _, word := range words {
			switch {
			case current == "":
				current = word
			case len(current)+1+len(word) <= maxChars:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
			for len(current) > maxChars {
				lines = append(lines, current[:maxChars])
				current = current[maxChars:]
			}
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	return lines
}
