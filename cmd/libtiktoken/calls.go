package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"runtime"
	"unsafe"
)

// The call helpers drive the exports the way a C caller does: arguments in C
// memory, results copied out and released with the matching free function,
// failures read from this thread's error cell. Test files cannot use cgo, so
// they live here.

func callerError() error {
	if msg, ok := takeLastError(); ok {
		return errors.New(msg)
	}
	return errors.New("call failed without leaving an error message")
}

func callInit(pattern, path string) (uintptr, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpat := C.CString(pattern)
	defer C.free(unsafe.Pointer(cpat))
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	ref := init_from_path(cpat, cpath)
	if ref == 0 {
		return 0, callerError()
	}
	return uintptr(ref), nil
}

func callInitFromMemory(pattern string, src []byte) (uintptr, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpat := C.CString(pattern)
	defer C.free(unsafe.Pointer(cpat))
	cvocab := C.CBytes(src)
	defer C.free(cvocab)

	ref := init_from_memory(cpat, (*C.char)(cvocab), C.size_t(len(src)))
	if ref == 0 {
		return 0, callerError()
	}
	return uintptr(ref), nil
}

func callEncode(ref uintptr, text string) ([]uint32, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	out := encode(C.uintptr_t(ref), ctext)
	if out == nil {
		return nil, callerError()
	}
	defer free_tokens(out)

	tokens := make([]uint32, int(out.len))
	if out.len > 0 {
		copy(tokens, unsafe.Slice((*uint32)(unsafe.Pointer(out.data)), int(out.len)))
	}
	return tokens, nil
}

func callDecode(ref uintptr, tokens []uint32) (string, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var ids *C.uint32_t
	if len(tokens) > 0 {
		ids = (*C.uint32_t)(C.malloc(C.size_t(len(tokens)) * C.size_t(unsafe.Sizeof(C.uint32_t(0)))))
		defer C.free(unsafe.Pointer(ids))
		copy(unsafe.Slice((*uint32)(unsafe.Pointer(ids)), len(tokens)), tokens)
	}

	out := decode(C.uintptr_t(ref), ids, C.size_t(len(tokens)))
	if out == nil {
		return "", callerError()
	}
	defer free_string(out)
	return C.GoString(out), nil
}

func callDestroy(ref uintptr) {
	destroy(C.uintptr_t(ref))
}
