package marketdata

import "math"

// midHistory is a fixed-capacity ring of recent mid prices.
type midHistory struct {
	buf   []float64
	next  int
	count int
}

func newMidHistory(capacity int) *midHistory {
	if capacity < 2 {
		capacity = 2
	}
	return &midHistory{buf: make([]float64, capacity)}
}

func (h *midHistory) add(mid float64) {
	h.buf[h.next] = mid
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

func (h *midHistory) reset() {
	h.next, h.count = 0, 0
}

// last returns up to n most recent mids, oldest first.
func (h *midHistory) last(n int) []float64 {
	if n > h.count {
		n = h.count
	}
	out := make([]float64, n)
	start := h.next - n
	if start < 0 {
		start += len(h.buf)
	}
	for i := range out {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

// volatility is the population standard deviation of simple returns over
// the last lookback mids. It needs at least two returns.
func (h *midHistory) volatility(lookback int) (float64, bool) {
	mids := h.last(lookback)
	if len(mids) < 3 {
		return 0, false
	}
	returns := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		if mids[i-1] == 0 {
			continue
		}
		returns = append(returns, (mids[i]-mids[i-1])/mids[i-1])
	}
	if len(returns) < 2 {
		return 0, false
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance), true
}
