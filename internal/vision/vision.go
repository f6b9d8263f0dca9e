// Package vision provides the grayscale image operations the drift monitor
// and auto-calibrator are built on: edge maps, structural similarity,
// brightness statistics, blurring and frame averaging.
package vision

import (
	"image"

	"github.com/disintegration/gift"
	"gonum.org/v1/gonum/stat"
)

// DefaultEdgeThreshold is the Sobel gradient magnitude above which a pixel
// counts as an edge.
const DefaultEdgeThreshold = 96

// Grayscale converts any image to 8-bit grayscale.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	f := gift.New(gift.Grayscale())
	dst := image.NewGray(f.Bounds(img.Bounds()))
	f.Draw(dst, img)
	return dst
}

// EdgeMap computes a binary edge map (0 or 255) from a grayscale image using
// a Sobel filter thresholded at the given gradient magnitude.
func EdgeMap(gray *image.Gray, threshold uint8) *image.Gray {
	f := gift.New(gift.Sobel())
	grad := image.NewGray(f.Bounds(gray.Bounds()))
	f.Draw(grad, gray)

	edges := image.NewGray(grad.Bounds())
	for i, v := range grad.Pix {
		if v >= threshold {
			edges.Pix[i] = 255
		}
	}
	return edges
}

// EdgeOverlap computes the Jaccard overlap between two binary edge maps: the
// ratio of pixels that are edges in both to pixels that are edges in either.
func EdgeOverlap(a, b *image.Gray) float64 {
	if len(a.Pix) != len(b.Pix) {
		return 0
	}
	var inter, union int
	for i := range a.Pix {
		ea := a.Pix[i] > 0
		eb := b.Pix[i] > 0
		if ea && eb {
			inter++
		}
		if ea || eb {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// MeanBrightness returns the mean pixel value of a grayscale image.
func MeanBrightness(gray *image.Gray) float64 {
	return stat.Mean(pixFloats(gray), nil)
}

// BrightnessVariance returns the pixel-value variance of a grayscale image.
// Very flat or dark scenes have low variance.
func BrightnessVariance(gray *image.Gray) float64 {
	return stat.Variance(pixFloats(gray), nil)
}

func pixFloats(gray *image.Gray) []float64 {
	vals := make([]float64, len(gray.Pix))
	for i, v := range gray.Pix {
		vals[i] = float64(v)
	}
	return vals
}

// GaussianBlur blurs a grayscale image with the given sigma.
func GaussianBlur(gray *image.Gray, sigma float32) *image.Gray {
	f := gift.New(gift.GaussianBlur(sigma))
	dst := image.NewGray(f.Bounds(gray.Bounds()))
	f.Draw(dst, gray)
	return dst
}

// AverageGray converts the frames to grayscale and averages them pixel-wise.
// Returns nil for empty input.
func AverageGray(frames []image.Image) *image.Gray {
	if len(frames) == 0 {
		return nil
	}

	first := Grayscale(frames[0])
	sums := make([]uint32, len(first.Pix))
	for i, v := range first.Pix {
		sums[i] = uint32(v)
	}
	for _, frame := range frames[1:] {
		g := Grayscale(frame)
		if len(g.Pix) != len(sums) {
			continue // Mismatched frame size, skip
		}
		for i, v := range g.Pix {
			sums[i] += uint32(v)
		}
	}

	avg := image.NewGray(first.Bounds())
	n := uint32(len(frames))
	for i, s := range sums {
		avg.Pix[i] = uint8(s / n)
	}
	return avg
}

// CropLowerThird returns the lower third of a grayscale image along with the
// vertical offset of the crop in the source image.
func CropLowerThird(gray *image.Gray) (*image.Gray, int) {
	b := gray.Bounds()
	offset := 2 * b.Dy() / 3
	crop := gray.SubImage(image.Rect(b.Min.X, b.Min.Y+offset, b.Max.X, b.Max.Y)).(*image.Gray)

	// Re-anchor at the origin so downstream indexing is simple.
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()-offset))
	for y := 0; y < out.Rect.Dy(); y++ {
		for x := 0; x < out.Rect.Dx(); x++ {
			out.SetGray(x, y, crop.GrayAt(b.Min.X+x, b.Min.Y+offset+y))
		}
	}
	return out, offset
}
