package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"
)

// HTTPDetector talks to an external inference service over HTTP. The service
// accepts a JPEG frame and returns raw detections as JSON; everything about
// the model is the service's business.
type HTTPDetector struct {
	endpoint    string
	client      *http.Client
	enabled     bool
	healthCheck time.Time
	jpegQuality int
}

// HTTPDetectorConfig holds configuration for the HTTP detector.
type HTTPDetectorConfig struct {
	Endpoint    string
	Timeout     time.Duration
	JPEGQuality int
}

type httpDetection struct {
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
	Confidence float64   `json:"confidence"`
	ClassID    int       `json:"class_id"`
}

type httpDetectResponse struct {
	Detections      []httpDetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
}

// NewHTTPDetector creates a detector client for the given endpoint.
func NewHTTPDetector(cfg HTTPDetectorConfig) *HTTPDetector {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 85
	}
	return &HTTPDetector{
		endpoint:    cfg.Endpoint,
		client:      &http.Client{Timeout: cfg.Timeout},
		enabled:     true,
		jpegQuality: cfg.JPEGQuality,
	}
}

// IsHealthy checks if the detection service is available. Results are cached
// for 30 seconds to keep the per-frame cost down.
func (hd *HTTPDetector) IsHealthy() bool {
	if time.Since(hd.healthCheck) < 30*time.Second && hd.enabled {
		return true
	}

	resp, err := hd.client.Get(hd.endpoint + "/health")
	if err != nil {
		log.Printf("[Detector] Health check failed: %v", err)
		hd.enabled = false
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		hd.healthCheck = time.Now()
		hd.enabled = true
		return true
	}

	log.Printf("[Detector] Health check returned status %d", resp.StatusCode)
	hd.enabled = false
	return false
}

// Detect sends the frame to the inference service and returns raw detections.
func (hd *HTTPDetector) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	if !hd.IsHealthy() {
		return nil, fmt.Errorf("detection service unavailable")
	}

	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, frame, &jpeg.Options{Quality: hd.jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(jpegBuf.Bytes()); err != nil {
		return nil, err
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hd.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := hd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detection service returned %d: %s", resp.StatusCode, body)
	}

	var result httpDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	dets := make([]Detection, 0, len(result.Detections))
	for _, rd := range result.Detections {
		if len(rd.BBox) != 4 {
			continue
		}
		dets = append(dets, Detection{
			X1:      rd.BBox[0],
			Y1:      rd.BBox[1],
			X2:      rd.BBox[2],
			Y2:      rd.BBox[3],
			Conf:    rd.Confidence,
			ClassID: rd.ClassID,
		})
	}
	return dets, nil
}

// Close releases the client. The HTTP client has no persistent resources.
func (hd *HTTPDetector) Close() error {
	return nil
}
