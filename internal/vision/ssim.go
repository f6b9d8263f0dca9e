package vision

import "image"

// SSIM constants for 8-bit images per Wang et al.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)

	ssimWindow = 8
)

// SSIM computes the mean structural similarity between two grayscale images
// over non-overlapping 8x8 windows. Returns a value in [-1, 1] (1 for
// identical images); mismatched dimensions yield 0.
func SSIM(a, b *image.Gray) float64 {
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		return 0
	}

	w := a.Bounds().Dx()
	h := a.Bounds().Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var sum float64
	var windows int

	for wy := 0; wy < h; wy += ssimWindow {
		for wx := 0; wx < w; wx += ssimWindow {
			bw := min(ssimWindow, w-wx)
			bh := min(ssimWindow, h-wy)

			var muA, muB float64
			n := float64(bw * bh)
			for y := 0; y < bh; y++ {
				rowA := (wy+y)*a.Stride + wx
				rowB := (wy+y)*b.Stride + wx
				for x := 0; x < bw; x++ {
					muA += float64(a.Pix[rowA+x])
					muB += float64(b.Pix[rowB+x])
				}
			}
			muA /= n
			muB /= n

			var varA, varB, cov float64
			for y := 0; y < bh; y++ {
				rowA := (wy+y)*a.Stride + wx
				rowB := (wy+y)*b.Stride + wx
				for x := 0; x < bw; x++ {
					da := float64(a.Pix[rowA+x]) - muA
					db := float64(b.Pix[rowB+x]) - muB
					varA += da * da
					varB += db * db
					cov += da * db
				}
			}
			varA /= n
			varB /= n
			cov /= n

			num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
			den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
			sum += num / den
			windows++
		}
	}

	if windows == 0 {
		return 0
	}
	return sum / float64(windows)
}
