package detect

import "sort"

// FilterConfig parameterizes the post-filter stage.
type FilterConfig struct {
	ConfThresh    float64
	IoUThresh     float64
	MaxDetections int
	// ClassFilter lists the class names to keep; empty keeps everything.
	ClassFilter []string
	// LabelMap maps class names to model class ids (labelmap.json format).
	LabelMap map[string]int
}

// Filter applies confidence thresholding, class filtering and greedy NMS to
// raw detections. The class lookup table is built once at construction so
// per-detection filtering is a direct id lookup.
type Filter struct {
	confThresh    float64
	iouThresh     float64
	maxDetections int
	keepAll       bool
	classNames    map[int]string // id -> name, only for kept classes
}

// NewFilter builds a Filter from config.
func NewFilter(cfg FilterConfig) *Filter {
	f := &Filter{
		confThresh:    cfg.ConfThresh,
		iouThresh:     cfg.IoUThresh,
		maxDetections: cfg.MaxDetections,
		keepAll:       len(cfg.ClassFilter) == 0,
		classNames:    make(map[int]string, len(cfg.ClassFilter)),
	}
	for _, name := range cfg.ClassFilter {
		if id, ok := cfg.LabelMap[name]; ok {
			f.classNames[id] = name
		}
	}
	return f
}

// ClassName returns the configured name for a class id, or "" if the class
// is not part of the filter set.
func (f *Filter) ClassName(classID int) string {
	return f.classNames[classID]
}

// Process filters raw detections: confidence threshold, class filter, then
// greedy non-maximum suppression, capped at MaxDetections.
func (f *Filter) Process(dets []Detection) []Detection {
	if len(dets) == 0 {
		return nil
	}

	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Conf < f.confThresh {
			continue
		}
		if !f.keepAll {
			if _, ok := f.classNames[d.ClassID]; !ok {
				continue
			}
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil
	}

	return f.nms(kept)
}

// nms is greedy per-class non-maximum suppression: highest confidence first,
// suppressing same-class boxes whose IoU exceeds the threshold.
func (f *Filter) nms(dets []Detection) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Conf > dets[j].Conf
	})

	out := make([]Detection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		out = append(out, dets[i])
		if f.maxDetections > 0 && len(out) >= f.maxDetections {
			break
		}
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].ClassID != dets[i].ClassID {
				continue
			}
			if IoU(dets[i], dets[j]) > f.iouThresh {
				suppressed[j] = true
			}
		}
	}
	return out
}
