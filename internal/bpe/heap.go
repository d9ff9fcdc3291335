package bpe

import "github.com/example/go-tiktoken/internal/vocab"

// mergeCand is a pending merge of the part starting at pos with its right
// neighbour. verL and verR snapshot the versions of both parts when the
// candidate was pushed; a mismatch on pop means the pair no longer exists.
type mergeCand struct {
	rank vocab.Rank // lower wins
	pos  int        // left part's byte offset; lower wins on equal rank
	verL uint32
	verR uint32
}

// mergeHeap is a binary min-heap ordered by (rank, pos).
type mergeHeap struct {
	items []mergeCand
}

func (h *mergeHeap) len() int { return len(h.items) }

func (h *mergeHeap) reset() { h.items = h.items[:0] }

func less(a, b mergeCand) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	return a.pos < b.pos
}

func (h *mergeHeap) push(c mergeCand) {
	h.items = append(h.items, c)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !less(h.items[i], h.items[parent]) {
			break
		}
		h.items[parent], h.items[i] = h.items[i], h.items[parent]
		i = parent
	}
}

func (h *mergeHeap) pop() (mergeCand, bool) {
	if len(h.items) == 0 {
		return mergeCand{}, false
	}

	n := len(h.items) - 1
	top := h.items[0]
	h.items[0] = h.items[n]
	h.items = h.items[:n]

	i := 0
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && less(h.items[left], h.items[smallest]) {
			smallest = left
		}
		if right < n && less(h.items[right], h.items[smallest]) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}

	return top, true
}
