package breaker

import "time"

// slidingWindow tracks operations and failures over a trailing time window
// using fixed-size buckets. Callers must serialize access; the breaker's
// mutex covers every use.
type slidingWindow struct {
	buckets        []int64
	failureBuckets []int64
	bucketSize     time.Duration
	currentBucket  int
	lastUpdate     time.Time
}

func newSlidingWindow(windowSize time.Duration, numBuckets int) *slidingWindow {
	return &slidingWindow{
		buckets:        make([]int64, numBuckets),
		failureBuckets: make([]int64, numBuckets),
		bucketSize:     windowSize / time.Duration(numBuckets),
		lastUpdate:     time.Now(),
	}
}

func (w *slidingWindow) record(success bool) {
	w.advance()

	w.buckets[w.currentBucket]++
	if !success {
		w.failureBuckets[w.currentBucket]++
	}
}

// advance rotates expired buckets based on elapsed time
func (w *slidingWindow) advance() {
	now := time.Now()
	elapsed := now.Sub(w.lastUpdate)
	if elapsed < w.bucketSize {
		return
	}

	steps := int(elapsed / w.bucketSize)
	if steps > len(w.buckets) {
		steps = len(w.buckets)
	}
	for i := 0; i < steps; i++ {
		w.currentBucket = (w.currentBucket + 1) % len(w.buckets)
		w.buckets[w.currentBucket] = 0
		w.failureBuckets[w.currentBucket] = 0
	}
	w.lastUpdate = now
}

// totals returns the operation count and failure rate across the window
func (w *slidingWindow) totals() (int64, float64) {
	w.advance()

	var ops, failures int64
	for i := range w.buckets {
		ops += w.buckets[i]
		failures += w.failureBuckets[i]
	}

	if ops == 0 {
		return 0, 0
	}
	return ops, float64(failures) / float64(ops)
}

func (w *slidingWindow) reset() {
	for i := range w.buckets {
		w.buckets[i] = 0
		w.failureBuckets[i] = 0
	}
	w.currentBucket = 0
	w.lastUpdate = time.Now()
}
