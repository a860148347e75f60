package engine

import "sync"

// historyBuffer keeps a rolling window of recent feature vectors per
// card for the sequence model. Bounded per card and overall; stale
// cards are evicted FIFO once the card cap is hit.
type historyBuffer struct {
	mu       sync.Mutex
	windows  map[string][][]float64
	order    []string
	seqLen   int
	maxCards int
}

const defaultMaxCards = 100000

func newHistoryBuffer(seqLen int) *historyBuffer {
	return &historyBuffer{
		windows:  make(map[string][][]float64),
		seqLen:   seqLen,
		maxCards: defaultMaxCards,
	}
}

// window returns the card's recent vectors with current appended as
// the most recent entry. The returned slice is private to the caller.
func (h *historyBuffer) window(cardID string, current []float64) [][]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.windows[cardID]
	out := make([][]float64, 0, len(prev)+1)
	out = append(out, prev...)
	out = append(out, current)
	return out
}

// append records a scored transaction's features for future windows.
func (h *historyBuffer) append(cardID string, features []float64) {
	if cardID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	prev, known := h.windows[cardID]
	prev = append(prev, features)
	if len(prev) > h.seqLen {
		prev = prev[len(prev)-h.seqLen:]
	}
	h.windows[cardID] = prev

	if !known {
		h.order = append(h.order, cardID)
		for len(h.order) > h.maxCards {
			evict := h.order[0]
			h.order = h.order[1:]
			delete(h.windows, evict)
		}
	}
}

// size returns the number of tracked cards.
func (h *historyBuffer) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows)
}
