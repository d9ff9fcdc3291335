// Command libtiktoken builds the tokenizer as a C shared library:
//
//	go build -buildmode=c-shared -o libtiktoken.so ./cmd/libtiktoken
//
// tiktoken.h declares the exported API. A failing call returns 0 or NULL and
// leaves a message in a per-thread cell that last_error_message returns and
// clears. Every buffer handed out is allocated with malloc and owned by the
// caller until passed back to its matching free function.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct {
  uint32_t *data;
  size_t len;
} Tokens;

void tt_set_error(const char *msg, size_t len);
char *tt_take_error(void);
*/
import "C"

import (
	"errors"
	"unsafe"
)

func main() {}

var errOutOfMemory = errors.New("out of memory")

// Exported functions run on the calling C thread, so the cell written here is
// the one that thread reads back.
func setLastError(err error) {
	msg := err.Error()
	cs := C.CString(msg)
	defer C.free(unsafe.Pointer(cs))
	C.tt_set_error(cs, C.size_t(len(msg)))
}

func takeLastError() (string, bool) {
	cs := C.tt_take_error()
	if cs == nil {
		return "", false
	}
	defer C.free(unsafe.Pointer(cs))
	return C.GoString(cs), true
}

// guard is deferred by every export so a panic is reported instead of
// crossing into C.
func guard(op string) {
	if r := recover(); r != nil {
		setLastError(panicError(op, r))
	}
}

//export init_from_path
func init_from_path(pat, bpePath *C.char) (ref C.uintptr_t) {
	defer guard("init")

	if pat == nil {
		setLastError(errPatternRequired)
		return 0
	}
	if bpePath == nil {
		setLastError(errPathRequired)
		return 0
	}

	h, err := openEngine(C.GoString(pat), C.GoString(bpePath))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.uintptr_t(h)
}

//export init_from_memory
func init_from_memory(pat, vocab *C.char, n C.size_t) (ref C.uintptr_t) {
	defer guard("init_from_memory")

	if pat == nil {
		setLastError(errPatternRequired)
		return 0
	}
	if vocab == nil {
		setLastError(errVocabRequired)
		return 0
	}

	src := unsafe.Slice((*byte)(unsafe.Pointer(vocab)), int(n))
	h, err := openEngineFromMemory(C.GoString(pat), src)
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.uintptr_t(h)
}

//export destroy
func destroy(ref C.uintptr_t) {
	defer guard("destroy")
	releaseEngine(uintptr(ref))
}

//export encode
func encode(ref C.uintptr_t, text *C.char) (out *C.Tokens) {
	defer guard("encode")

	if text == nil {
		setLastError(errTextRequired)
		return nil
	}

	tokens, err := encodeText(uintptr(ref), C.GoString(text))
	if err != nil {
		setLastError(err)
		return nil
	}

	out = (*C.Tokens)(C.malloc(C.size_t(unsafe.Sizeof(C.Tokens{}))))
	if out == nil {
		setLastError(errOutOfMemory)
		return nil
	}
	out.data = nil
	out.len = C.size_t(len(tokens))

	if len(tokens) > 0 {
		out.data = (*C.uint32_t)(C.malloc(C.size_t(len(tokens)) * C.size_t(unsafe.Sizeof(C.uint32_t(0)))))
		if out.data == nil {
			C.free(unsafe.Pointer(out))
			setLastError(errOutOfMemory)
			return nil
		}
		copy(unsafe.Slice((*uint32)(unsafe.Pointer(out.data)), len(tokens)), tokens)
	}
	return out
}

//export free_tokens
func free_tokens(tokens *C.Tokens) {
	if tokens == nil {
		return
	}
	C.free(unsafe.Pointer(tokens.data))
	C.free(unsafe.Pointer(tokens))
}

//export decode
func decode(ref C.uintptr_t, tokens *C.uint32_t, n C.size_t) (out *C.char) {
	defer guard("decode")

	if tokens == nil && n > 0 {
		setLastError(errTokensRequired)
		return nil
	}

	var ids []uint32
	if n > 0 {
		ids = unsafe.Slice((*uint32)(unsafe.Pointer(tokens)), int(n))
	}

	text, err := decodeTokens(uintptr(ref), ids)
	if err != nil {
		setLastError(err)
		return nil
	}

	return C.CString(text)
}

//export free_string
func free_string(s *C.char) {
	C.free(unsafe.Pointer(s))
}
