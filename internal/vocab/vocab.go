// Package vocab holds the immutable byte-sequence to rank table a BPE engine
// merges against, and the parser for the line-oriented tiktoken vocabulary
// format:
//
//	<base64 bytes> <decimal rank>
//
// Blank lines are skipped. A byte sequence that appears more than once keeps
// the rank of its last occurrence.
package vocab

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Rank is the merge priority of a vocabulary entry. Lower ranks merge first.
// A token id is the rank of the byte sequence it stands for.
type Rank = uint32

var (
	// ErrEmptyPath is returned when ParseFile is called with an empty path.
	ErrEmptyPath = errors.New("vocabulary path must not be empty")
	// ErrFieldCount marks a line that does not have exactly two fields.
	ErrFieldCount = errors.New("unexpected line format")
	// ErrBase64 marks a line whose first field is not valid base64.
	ErrBase64 = errors.New("invalid base64 token")
	// ErrRank marks a line whose second field is not a non-negative 32-bit integer.
	ErrRank = errors.New("invalid rank")
	// ErrEmptyToken marks a line whose token decodes to zero bytes.
	ErrEmptyToken = errors.New("token decodes to an empty byte sequence")
	// ErrDuplicateRank is returned when two distinct byte sequences share a rank.
	ErrDuplicateRank = errors.New("duplicate rank")
)

// ParseError reports the offending line of a vocabulary source.
type ParseError struct {
	Line    int
	Content string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vocabulary line %d: %v: %q", e.Line, e.Err, e.Content)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Vocabulary maps byte sequences to ranks and back. It is never mutated after
// Parse returns, so it is safe for concurrent use.
type Vocabulary struct {
	ranks   map[string]Rank
	tokens  map[Rank][]byte
	maxRank Rank
}

// Parse reads a vocabulary source until EOF. No partial vocabulary is returned
// on failure.
func Parse(r io.Reader) (*Vocabulary, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	ranks := make(map[string]Rank)

	for lineNo := 1; ; lineNo++ {
		line, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read vocabulary: %w", readErr)
		}

		if trimmed := strings.TrimSpace(line); trimmed != "" {
			token, rank, err := parseLine(trimmed)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Content: trimmed, Err: err}
			}
			ranks[string(token)] = rank
		}

		if readErr != nil {
			break
		}
	}

	return fromRanks(ranks)
}

// ParseFile opens path and parses it as a vocabulary source.
func ParseFile(path string) (*Vocabulary, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary %q: %w", path, err)
	}
	defer f.Close()

	v, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse vocabulary %q: %w", path, err)
	}
	return v, nil
}

// FromMap builds a vocabulary from an in-memory table. The map is copied.
func FromMap(m map[string]Rank) (*Vocabulary, error) {
	ranks := make(map[string]Rank, len(m))
	for k, r := range m {
		if k == "" {
			return nil, ErrEmptyToken
		}
		ranks[k] = r
	}
	return fromRanks(ranks)
}

func parseLine(line string) ([]byte, Rank, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return nil, 0, fmt.Errorf("%w: want 2 fields, got %d", ErrFieldCount, len(fields))
	}

	token, err := base64.StdEncoding.DecodeString(fields[0])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBase64, err)
	}
	if len(token) == 0 {
		return nil, 0, ErrEmptyToken
	}

	rank, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRank, err)
	}

	return token, Rank(rank), nil
}

func fromRanks(ranks map[string]Rank) (*Vocabulary, error) {
	v := &Vocabulary{
		ranks:  ranks,
		tokens: make(map[Rank][]byte, len(ranks)),
	}

	for k, r := range ranks {
		if prev, ok := v.tokens[r]; ok {
			return nil, fmt.Errorf("%w %d: %q and %q", ErrDuplicateRank, r, prev, k)
		}
		v.tokens[r] = []byte(k)
		if r > v.maxRank {
			v.maxRank = r
		}
	}

	return v, nil
}

// Rank returns the rank of b, if b is a vocabulary entry.
func (v *Vocabulary) Rank(b []byte) (Rank, bool) {
	r, ok := v.ranks[string(b)]
	return r, ok
}

// RankString is Rank for string input.
func (v *Vocabulary) RankString(s string) (Rank, bool) {
	r, ok := v.ranks[s]
	return r, ok
}

// Bytes returns the byte sequence for rank r. The returned slice is shared
// and must not be modified.
func (v *Vocabulary) Bytes(r Rank) ([]byte, bool) {
	b, ok := v.tokens[r]
	return b, ok
}

// Len returns the number of entries.
func (v *Vocabulary) Len() int { return len(v.ranks) }

// MaxRank returns the largest rank, or 0 for an empty vocabulary.
func (v *Vocabulary) MaxRank() Rank { return v.maxRank }

// MissingBytes lists the single byte values that have no entry of their own.
// A byte-level BPE vocabulary is expected to return none; any byte listed
// here makes some inputs unencodable.
func (v *Vocabulary) MissingBytes() []byte {
	var missing []byte
	var one [1]byte
	for b := 0; b <= math.MaxUint8; b++ {
		one[0] = byte(b)
		if _, ok := v.ranks[string(one[:])]; !ok {
			missing = append(missing, byte(b))
		}
	}
	return missing
}

// WriteTo serializes the vocabulary in rank order using the same format Parse
// reads.
func (v *Vocabulary) WriteTo(w io.Writer) (int64, error) {
	order := make([]Rank, 0, len(v.tokens))
	for r := range v.tokens {
		order = append(order, r)
	}
	slices.Sort(order)

	bw := bufio.NewWriter(w)
	var n int64
	for _, r := range order {
		c, err := fmt.Fprintf(bw, "%s %d\n", base64.StdEncoding.EncodeToString(v.tokens[r]), r)
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}
