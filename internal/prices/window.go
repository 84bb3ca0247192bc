package prices

import (
	"sync"

	"github.com/shopspring/decimal"
)

// rollingWindow keeps the last K validated prices for one token, used for
// anomaly detection (§4.4 step 7). Not safe for concurrent use on its own;
// callers hold windowStore.mu.
type rollingWindow struct {
	values []float64
	size   int
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size}
}

func (w *rollingWindow) mean() (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(len(w.values)), true
}

func (w *rollingWindow) push(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.values = w.values[len(w.values)-w.size:]
	}
}

// windowStore holds one rollingWindow per token, keyed by TokenRef.Key().
type windowStore struct {
	mu      sync.Mutex
	windows map[string]*rollingWindow
	size    int
}

func newWindowStore(size int) *windowStore {
	return &windowStore{windows: make(map[string]*rollingWindow), size: size}
}

// checkAndUpdate reports whether the new value is anomalous against the
// window's mean (false when there is no history yet), then
// unconditionally records it, per §4.4 step 7 ("always updated ... even
// when anomalous").
func (s *windowStore) checkAndUpdate(key string, value decimal.Decimal, thresholdPercent float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = newRollingWindow(s.size)
		s.windows[key] = w
	}

	anomalous := false
	if mean, hasHistory := w.mean(); hasHistory && mean != 0 {
		v, _ := value.Float64()
		deviation := absFloat(v-mean) / absFloat(mean) * 100
		if deviation > thresholdPercent {
			anomalous = true
		}
	}

	v, _ := value.Float64()
	w.push(v)
	return anomalous
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
