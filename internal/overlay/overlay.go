// Package overlay renders the counting line, track boxes and running totals
// onto frames for debug snapshots and replay artifacts.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"linetally/internal/count"
	"linetally/internal/geom"
	"linetally/internal/track"
)

var (
	lineColor  = color.RGBA{255, 215, 0, 255}
	boxColor   = color.RGBA{0, 255, 0, 255}
	textColor  = color.RGBA{255, 255, 255, 255}
	arrowColor = color.RGBA{0, 191, 255, 255}
)

// Render draws the current pipeline state onto a copy of frame.
func Render(frame image.Image, line count.Line, tracked []track.TrackedDetection, totals count.Totals) *image.RGBA {
	bounds := frame.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, frame, bounds.Min, draw.Src)

	drawSegment(rgba, line.Start, line.End, lineColor, 2)
	drawDirectionArrow(rgba, line)

	for _, td := range tracked {
		x, y := int(td.X1), int(td.Y1)
		w, h := int(td.X2-td.X1), int(td.Y2-td.Y1)
		drawBox(rgba, x, y, w, h, boxColor, 2)
		drawLabel(rgba, x, y-5, fmt.Sprintf("#%d %.0f%%", td.TrackID, td.Conf*100), boxColor)
	}

	osd := fmt.Sprintf("IN %d  OUT %d  NET %d", totals.In, totals.Out, totals.Net)
	drawLabel(rgba, 8, 8, osd, textColor)

	return rgba
}

// EncodeJPEG encodes a rendered frame for snapshots.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode overlay jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// drawDirectionArrow marks the "in" direction with a short arrow from the
// line midpoint along its normal.
func drawDirectionArrow(img *image.RGBA, line count.Line) {
	mid := geom.Point{X: (line.Start.X + line.End.X) / 2, Y: (line.Start.Y + line.End.Y) / 2}
	dx := line.End.X - line.Start.X
	dy := line.End.Y - line.Start.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}

	// Left normal; crossing toward it is "in" for near-to-far lines.
	nx, ny := dy/length, -dx/length
	if line.Direction == count.FarToNear {
		nx, ny = -nx, -ny
	}

	const arrowLen = 30.0
	tip := geom.Point{X: mid.X + nx*arrowLen, Y: mid.Y + ny*arrowLen}
	drawSegment(img, mid, tip, arrowColor, 2)

	// Arrowhead barbs.
	bx, by := -nx*8+dx/length*5, -ny*8+dy/length*5
	drawSegment(img, tip, geom.Point{X: tip.X + bx, Y: tip.Y + by}, arrowColor, 2)
	bx, by = -nx*8-dx/length*5, -ny*8-dy/length*5
	drawSegment(img, tip, geom.Point{X: tip.X + bx, Y: tip.Y + by}, arrowColor, 2)
}

// drawSegment rasterizes a line segment by stepping along its length.
func drawSegment(img *image.RGBA, a, b geom.Point, c color.RGBA, thickness int) {
	steps := int(a.Dist(b)) + 1
	bounds := img.Bounds()
	half := thickness / 2

	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		cx := int(math.Round(a.X + t*(b.X-a.X)))
		cy := int(math.Round(a.Y + t*(b.Y-a.Y)))
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				px, py := cx+dx, cy+dy
				if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
					img.Set(px, py, c)
				}
			}
		}
	}
}

// drawBox draws a rectangle outline.
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= 0 && y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= 0 && x+t < bounds.Max.X && j >= 0 {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X && j >= 0 {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// drawLabel draws text with a dark background strip.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
