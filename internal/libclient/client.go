//go:build darwin || linux || freebsd

package libclient

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/example/go-tiktoken/internal/vocab"
)

// cTokens mirrors the Tokens struct of tiktoken.h.
type cTokens struct {
	data *uint32
	len  uintptr
}

// Library is a loaded libtiktoken. It is never unloaded.
type Library struct {
	path string

	init           func(pat, bpePath string) uintptr
	initFromMemory func(pat string, src unsafe.Pointer, n uintptr) uintptr
	destroy        func(ref uintptr)
	encode         func(ref uintptr, text string) unsafe.Pointer
	freeTokens     func(tokens unsafe.Pointer)
	decode         func(ref uintptr, tokens unsafe.Pointer, n uintptr) unsafe.Pointer
	freeString     func(s unsafe.Pointer)
	lastError      func() unsafe.Pointer
}

var (
	loadedMu sync.Mutex
	loaded   = map[string]*Library{}
)

// Open finds and loads the library; see Find for the lookup order. Loading
// the same file twice returns the same Library.
func Open(explicit string) (*Library, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, err
	}

	loadedMu.Lock()
	defer loadedMu.Unlock()

	if lib, ok := loaded[path]; ok {
		return lib, nil
	}

	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	lib := &Library{path: path}
	purego.RegisterLibFunc(&lib.init, handle, "init")
	purego.RegisterLibFunc(&lib.initFromMemory, handle, "init_from_memory")
	purego.RegisterLibFunc(&lib.destroy, handle, "destroy")
	purego.RegisterLibFunc(&lib.encode, handle, "encode")
	purego.RegisterLibFunc(&lib.freeTokens, handle, "free_tokens")
	purego.RegisterLibFunc(&lib.decode, handle, "decode")
	purego.RegisterLibFunc(&lib.freeString, handle, "free_string")
	purego.RegisterLibFunc(&lib.lastError, handle, "last_error_message")

	loaded[path] = lib
	return lib, nil
}

// Path returns the loaded library file.
func (l *Library) Path() string { return l.path }

// call runs fn pinned to one OS thread, so a failure recorded by the library
// is read back from the same thread-local cell.
func (l *Library) call(fn func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fn()
}

// takeError must run inside call.
func (l *Library) takeError(op, fallback string) error {
	p := l.lastError()
	if p == nil {
		return &Error{Op: op, Message: fallback}
	}
	msg := goString(p)
	l.freeString(p)
	return &Error{Op: op, Message: msg}
}

// Strings cross the boundary as C strings, which end at the first NUL.
func checkCString(op, what, s string) error {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return &Error{Op: op, Message: fmt.Sprintf("%s contains a NUL byte at offset %d, which a C string cannot carry", what, i)}
	}
	return nil
}

// NewEncoder constructs an engine from a vocabulary file.
func (l *Library) NewEncoder(name, pattern, vocabPath string) (*Encoder, error) {
	if err := checkCString("init", "pattern", pattern); err != nil {
		return nil, err
	}
	if err := checkCString("init", "vocabulary path", vocabPath); err != nil {
		return nil, err
	}

	var ref uintptr
	var err error
	l.call(func() {
		ref = l.init(pattern, vocabPath)
		if ref == 0 {
			err = l.takeError("init", "initialization failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return &Encoder{lib: l, ref: ref, name: name}, nil
}

// NewEncoderFromMemory constructs an engine from vocabulary bytes.
func (l *Library) NewEncoderFromMemory(name, pattern string, src []byte) (*Encoder, error) {
	if err := checkCString("init_from_memory", "pattern", pattern); err != nil {
		return nil, err
	}

	var ref uintptr
	var err error
	l.call(func() {
		var p unsafe.Pointer
		if len(src) > 0 {
			p = unsafe.Pointer(&src[0])
		} else {
			// the library rejects NULL; any valid address of length zero will do
			p = unsafe.Pointer(&ref)
		}
		ref = l.initFromMemory(pattern, p, uintptr(len(src)))
		runtime.KeepAlive(src)
		if ref == 0 {
			err = l.takeError("init_from_memory", "initialization failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return &Encoder{lib: l, ref: ref, name: name}, nil
}

// Encoder is one engine living inside the library.
type Encoder struct {
	lib  *Library
	ref  uintptr
	name string
	once sync.Once
}

// Name returns the encoding name given at construction.
func (e *Encoder) Name() string { return e.name }

func (e *Encoder) String() string {
	return fmt.Sprintf("LibEncoder(encoding=%q)", e.name)
}

// Encode copies the library's token buffer into Go memory and frees it.
// Text containing a NUL byte is refused rather than cut short.
func (e *Encoder) Encode(text string) ([]vocab.Rank, error) {
	if text == "" {
		return []vocab.Rank{}, nil
	}
	if err := checkCString("encode", "text", text); err != nil {
		return nil, err
	}

	var out []vocab.Rank
	var err error
	e.lib.call(func() {
		p := e.lib.encode(e.ref, text)
		if p == nil {
			err = e.lib.takeError("encode", "encoding failed")
			return
		}
		defer e.lib.freeTokens(p)

		t := (*cTokens)(p)
		out = make([]vocab.Rank, int(t.len))
		if t.len > 0 {
			copy(out, unsafe.Slice(t.data, int(t.len)))
		}
	})
	return out, err
}

// Decode passes tokens by pointer and copies the returned text. The library
// fails tokens that decode to text containing a NUL byte.
func (e *Encoder) Decode(tokens []vocab.Rank) (string, error) {
	if len(tokens) == 0 {
		return "", nil
	}

	var text string
	var err error
	e.lib.call(func() {
		p := e.lib.decode(e.ref, unsafe.Pointer(&tokens[0]), uintptr(len(tokens)))
		runtime.KeepAlive(tokens)
		if p == nil {
			err = e.lib.takeError("decode", "decoding failed")
			return
		}
		text = goString(p)
		e.lib.freeString(p)
	})
	return text, err
}

// Close destroys the engine. Further calls are no-ops.
func (e *Encoder) Close() error {
	e.once.Do(func() {
		e.lib.destroy(e.ref)
		e.ref = 0
	})
	return nil
}

// goString copies a NUL-terminated C string.
func goString(p unsafe.Pointer) string {
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}
