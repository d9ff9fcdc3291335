// Package bpe implements the byte-pair merge at the heart of the tokenizer:
// one chunk of bytes in, the minimal sequence of vocabulary ranks out.
//
// The chunk starts as one part per byte. While some adjacent pair of parts
// concatenates to a vocabulary entry, the pair with the lowest rank is merged;
// among equal ranks the leftmost pair goes first. Every remaining part is then
// mapped to its rank. The order of merges is what vocabularies were trained
// under, so it must not change.
package bpe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/example/go-tiktoken/internal/vocab"
)

// ErrUnknownSequence is wrapped by UnknownSequenceError.
var ErrUnknownSequence = errors.New("byte sequence has no vocabulary entry")

// UnknownSequenceError reports a part left after merging that the vocabulary
// cannot map to a rank, which happens when single bytes are missing from it.
type UnknownSequenceError struct {
	Bytes []byte
}

func (e *UnknownSequenceError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUnknownSequence, e.Bytes)
}

func (e *UnknownSequenceError) Unwrap() error { return ErrUnknownSequence }

// Ranker looks up the rank of a byte sequence.
type Ranker interface {
	Rank(b []byte) (vocab.Rank, bool)
}

type scratch struct {
	end  []int
	prev []int
	ver  []uint32
	heap mergeHeap
}

var scratchPool = sync.Pool{
	New: func() any { return &scratch{} },
}

func (sc *scratch) prepare(n int) {
	sc.end = growInts(sc.end, n)
	sc.prev = growInts(sc.prev, n)
	if cap(sc.ver) < n {
		sc.ver = make([]uint32, n)
	}
	sc.ver = sc.ver[:n]
	sc.heap.reset()
}

func growInts(buf []int, n int) []int {
	if cap(buf) < n {
		return make([]int, n)
	}
	return buf[:n]
}

// Encode merges piece against ranks and returns the ranks of the resulting
// parts, left to right.
func Encode(piece []byte, ranks Ranker) ([]vocab.Rank, error) {
	n := len(piece)
	if n == 0 {
		return nil, nil
	}
	if n == 1 {
		r, ok := ranks.Rank(piece)
		if !ok {
			return nil, &UnknownSequenceError{Bytes: append([]byte(nil), piece...)}
		}
		return []vocab.Rank{r}, nil
	}

	sc := scratchPool.Get().(*scratch)
	defer scratchPool.Put(sc)
	sc.prepare(n)

	// Parts are identified by the byte offset they start at. end[i] is the
	// start of the next part (n for the last one) and prev[i] the start of
	// the previous one (-1 for the first). Only live parts are reachable
	// from offset 0.
	end, prev, ver := sc.end, sc.prev, sc.ver
	for i := range n {
		end[i] = i + 1
		prev[i] = i - 1
		ver[i] = 0
	}

	h := &sc.heap
	pushPair := func(i int) {
		j := end[i]
		if j >= n {
			return
		}
		if r, ok := ranks.Rank(piece[i:end[j]]); ok {
			h.push(mergeCand{rank: r, pos: i, verL: ver[i], verR: ver[j]})
		}
	}

	for i := 0; i < n-1; i++ {
		pushPair(i)
	}

	for {
		c, ok := h.pop()
		if !ok {
			break
		}

		i := c.pos
		j := end[i]
		if j >= n || ver[i] != c.verL || ver[j] != c.verR {
			continue // stale
		}

		// absorb j into i
		end[i] = end[j]
		if end[j] < n {
			prev[end[j]] = i
		}
		ver[i]++
		ver[j]++

		if p := prev[i]; p >= 0 {
			pushPair(p)
		}
		pushPair(i)
	}

	out := make([]vocab.Rank, 0, n)
	for i := 0; i < n; i = end[i] {
		part := piece[i:end[i]]
		r, ok := ranks.Rank(part)
		if !ok {
			return nil, &UnknownSequenceError{Bytes: append([]byte(nil), part...)}
		}
		out = append(out, r)
	}

	return out, nil
}
