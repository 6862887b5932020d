package telemetry

import (
	"math"
	"sync"
	"sync/atomic"
)

// defaultDurationBuckets are the bucket boundaries (in seconds) for HTTP
// request duration, following OTel HTTP semantic conventions.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// defaultSizeBuckets are the bucket boundaries (in bytes) for request and
// response size. Card uploads land in the upper buckets.
var defaultSizeBuckets = []float64{
	100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
}

// histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export time. Values above the last boundary only show up in
// the +Inf bucket.
type histogram struct {
	boundaries []float64

	mu      sync.Mutex
	buckets []int64

	count int64
	sum   uint64 // math.Float64bits
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, buckets: make([]int64, len(boundaries))}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	for i, b := range h.boundaries {
		if v <= b {
			h.mu.Lock()
			h.buckets[i]++
			h.mu.Unlock()
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.buckets))
	var running int64
	for i, c := range h.buckets {
		running += c
		cum[i] = running
	}
	return cum
}

// histogramSet holds one histogram per label key.
type histogramSet struct {
	boundaries []float64

	mu    sync.RWMutex
	items map[string]*histogram
}

func newHistogramSet(boundaries []float64) *histogramSet {
	return &histogramSet{boundaries: boundaries, items: make(map[string]*histogram)}
}

func (s *histogramSet) get(key string) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.items[key]; !ok {
		h = newHistogram(s.boundaries)
		s.items[key] = h
	}
	return h
}

func (s *histogramSet) lookup(key string) *histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key]
}

func (s *histogramSet) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

// valueSet is a map of named int64 cells. Counters and gauges share it.
type valueSet struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newValueSet() *valueSet {
	return &valueSet{items: make(map[string]*int64)}
}

func (s *valueSet) cell(key string) *int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.items[key]; !ok {
		p = new(int64)
		s.items[key] = p
	}
	return p
}

func (s *valueSet) add(key string, delta int64) { atomic.AddInt64(s.cell(key), delta) }

func (s *valueSet) set(key string, v int64) { atomic.StoreInt64(s.cell(key), v) }

func (s *valueSet) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *valueSet) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// LabelsKey builds the key for a (method, route, status) labeled histogram.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}
