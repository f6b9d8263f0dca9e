package calibrate

import (
	"math"
	"sort"

	"linetally/internal/geom"
)

// Segment is a straight line segment detected in an edge map.
type Segment struct {
	P1 geom.Point
	P2 geom.Point
}

// Length returns the segment length in pixels.
func (s Segment) Length() float64 {
	return s.P1.Dist(s.P2)
}

// Midpoint returns the segment's center.
func (s Segment) Midpoint() geom.Point {
	return geom.Point{X: (s.P1.X + s.P2.X) / 2, Y: (s.P1.Y + s.P2.Y) / 2}
}

// houghParams controls the segment extraction.
type houghParams struct {
	voteThresh int     // minimum accumulator votes for a line
	minLength  float64 // minimum segment length in pixels
	maxGap     int     // maximum run of non-edge pixels inside a segment
	maxLines   int     // number of accumulator peaks to walk
}

func defaultHoughParams() houghParams {
	return houghParams{
		voteThresh: 40,
		minLength:  40,
		maxGap:     8,
		maxLines:   24,
	}
}

// houghSegments extracts straight segments from a binary edge map using a
// standard Hough accumulator followed by a gap-limited walk along each peak
// line. Iteration order is fixed so results are deterministic.
func houghSegments(edges []bool, w, h int, p houghParams) []Segment {
	if w <= 0 || h <= 0 || len(edges) != w*h {
		return nil
	}

	const thetaSteps = 180
	diag := int(math.Ceil(math.Sqrt(float64(w*w + h*h))))
	rhoBins := 2*diag + 1

	sinT := make([]float64, thetaSteps)
	cosT := make([]float64, thetaSteps)
	for t := 0; t < thetaSteps; t++ {
		theta := float64(t) * math.Pi / float64(thetaSteps)
		sinT[t] = math.Sin(theta)
		cosT[t] = math.Cos(theta)
	}

	acc := make([]int, rhoBins*thetaSteps)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !edges[y*w+x] {
				continue
			}
			for t := 0; t < thetaSteps; t++ {
				rho := int(math.Round(float64(x)*cosT[t] + float64(y)*sinT[t]))
				acc[(rho+diag)*thetaSteps+t]++
			}
		}
	}

	type peak struct {
		votes int
		rho   int
		theta int
	}
	var peaks []peak
	for r := 0; r < rhoBins; r++ {
		for t := 0; t < thetaSteps; t++ {
			v := acc[r*thetaSteps+t]
			if v >= p.voteThresh && isLocalMax(acc, rhoBins, thetaSteps, r, t) {
				peaks = append(peaks, peak{votes: v, rho: r - diag, theta: t})
			}
		}
	}
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].votes != peaks[j].votes {
			return peaks[i].votes > peaks[j].votes
		}
		if peaks[i].rho != peaks[j].rho {
			return peaks[i].rho < peaks[j].rho
		}
		return peaks[i].theta < peaks[j].theta
	})
	if len(peaks) > p.maxLines {
		peaks = peaks[:p.maxLines]
	}

	var segments []Segment
	for _, pk := range peaks {
		segments = append(segments, walkLine(edges, w, h, pk.rho, sinT[pk.theta], cosT[pk.theta], p)...)
	}
	return segments
}

// isLocalMax checks a 3x3 neighborhood in (rho, theta) space.
func isLocalMax(acc []int, rhoBins, thetaSteps, r, t int) bool {
	v := acc[r*thetaSteps+t]
	for dr := -1; dr <= 1; dr++ {
		for dt := -1; dt <= 1; dt++ {
			if dr == 0 && dt == 0 {
				continue
			}
			nr, nt := r+dr, t+dt
			if nr < 0 || nr >= rhoBins || nt < 0 || nt >= thetaSteps {
				continue
			}
			if acc[nr*thetaSteps+nt] > v {
				return false
			}
		}
	}
	return true
}

// walkLine traces the line x*cos+y*sin = rho through the edge map, emitting
// segments of consecutive edge pixels separated by at most maxGap misses.
func walkLine(edges []bool, w, h, rho int, sin, cos float64, p houghParams) []Segment {
	var pts []geom.Point
	if math.Abs(sin) >= math.Abs(cos) {
		// Closer to horizontal; step along x.
		for x := 0; x < w; x++ {
			y := int(math.Round((float64(rho) - float64(x)*cos) / sin))
			if y >= 0 && y < h {
				pts = append(pts, geom.Point{X: float64(x), Y: float64(y)})
			}
		}
	} else {
		for y := 0; y < h; y++ {
			x := int(math.Round((float64(rho) - float64(y)*sin) / cos))
			if x >= 0 && x < w {
				pts = append(pts, geom.Point{X: float64(x), Y: float64(y)})
			}
		}
	}

	var segments []Segment
	var start, last *geom.Point
	gap := 0
	flush := func() {
		if start != nil && last != nil {
			seg := Segment{P1: *start, P2: *last}
			if seg.Length() >= p.minLength {
				segments = append(segments, seg)
			}
		}
		start, last = nil, nil
		gap = 0
	}
	for i := range pts {
		pt := pts[i]
		if edgeAt(edges, w, h, int(pt.X), int(pt.Y)) {
			if start == nil {
				start = &pts[i]
			}
			last = &pts[i]
			gap = 0
			continue
		}
		if start != nil {
			gap++
			if gap > p.maxGap {
				flush()
			}
		}
	}
	flush()
	return segments
}

// edgeAt tolerates one pixel of rasterization error perpendicular to the walk.
func edgeAt(edges []bool, w, h, x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if nx >= 0 && nx < w && ny >= 0 && ny < h && edges[ny*w+nx] {
				return true
			}
		}
	}
	return false
}
