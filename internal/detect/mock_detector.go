package detect

import (
	"context"
	"image"
	"log"
	"math/rand"
)

// MockDetector generates synthetic detections that drift across the frame.
// Used for demos and pipeline tests when no inference service is reachable.
type MockDetector struct {
	classID int
	rng     *rand.Rand
	objects []*mockObject
}

type mockObject struct {
	x, y   float64
	vx, vy float64
	age    int
}

// NewMockDetector creates a mock detector emitting the given class id.
func NewMockDetector(classID int, seed int64) *MockDetector {
	log.Printf("[Detector] Mock mode: generating synthetic detections (class %d)", classID)
	return &MockDetector{
		classID: classID,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Detect returns synthetic detections for the frame. Objects spawn
// occasionally, move with a constant velocity and expire off-screen.
func (md *MockDetector) Detect(_ context.Context, frame image.Image) ([]Detection, error) {
	b := frame.Bounds()
	w := float64(b.Dx())
	h := float64(b.Dy())

	if len(md.objects) == 0 || md.rng.Float64() < 0.02 {
		md.objects = append(md.objects, &mockObject{
			x:  50 + md.rng.Float64()*(w-100),
			y:  100 + md.rng.Float64()*(h-200),
			vx: 2 + md.rng.Float64()*3,
			vy: -1 + md.rng.Float64()*2,
		})
	}

	dets := make([]Detection, 0, len(md.objects))
	alive := md.objects[:0]
	for _, obj := range md.objects {
		obj.x += obj.vx
		obj.y += obj.vy
		obj.age++

		if obj.x < -50 || obj.x > w+50 || obj.age > 300 {
			continue
		}
		alive = append(alive, obj)

		size := 40 + md.rng.Float64()*40
		dets = append(dets, Detection{
			X1:      max(0, obj.x-size/2),
			Y1:      max(0, obj.y-size/2),
			X2:      min(w, obj.x+size/2),
			Y2:      min(h, obj.y+size/2),
			Conf:    0.5 + md.rng.Float64()*0.45,
			ClassID: md.classID,
		})
	}
	md.objects = alive

	return dets, nil
}

// Close is a no-op for the mock detector.
func (md *MockDetector) Close() error {
	return nil
}
