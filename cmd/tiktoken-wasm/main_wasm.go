//go:build js && wasm

package main

import (
	"bytes"
	"fmt"
	"sync"
	"syscall/js"

	"github.com/example/go-tiktoken/internal/config"
	"github.com/example/go-tiktoken/internal/encoding"
	"github.com/example/go-tiktoken/internal/tokenizer"
	"github.com/example/go-tiktoken/internal/vocab"
)

type progressReporter struct {
	cb js.Value
}

func (p *progressReporter) Emit(stage string, current, total int, detail string) {
	if p == nil || p.cb.IsUndefined() || p.cb.IsNull() {
		return
	}
	percent := 0.0
	if total > 0 {
		percent = min(max((float64(current)/float64(total))*100.0, 0), 100)
	}
	payload := map[string]any{
		"stage":   stage,
		"current": current,
		"total":   total,
		"percent": percent,
		"detail":  detail,
	}
	defer func() {
		_ = recover()
	}()
	p.cb.Invoke(js.ValueOf(payload))
}

var (
	defaults  = config.DefaultConfig()
	enginesMu sync.RWMutex
	engines   = map[string]*tokenizer.BPE{}
)

func main() {
	kernel := map[string]any{
		"version":       "0.1.0-wasm",
		"encodings":     js.FuncOf(listEncodings),
		"modelEncoding": js.FuncOf(modelEncoding),
		"loadVocab":     js.FuncOf(loadVocabAsync),
		"unload":        js.FuncOf(unload),
		"encode":        js.FuncOf(encodeText),
		"decode":        js.FuncOf(decodeTokens),
		"count":         js.FuncOf(countTokens),
		"chunks":        js.FuncOf(encodeChunks),
	}

	js.Global().Set("TiktokenKernel", js.ValueOf(kernel))
	println("tiktoken wasm kernel loaded")
	select {}
}

func listEncodings(_ js.Value, _ []js.Value) any {
	enginesMu.RLock()
	defer enginesMu.RUnlock()

	names := encoding.Names()
	list := make([]any, 0, len(names))
	for _, name := range names {
		enc, _ := encoding.Lookup(name)
		_, loaded := engines[name]
		list = append(list, map[string]any{
			"name":   name,
			"url":    enc.URL,
			"sha256": enc.SHA256,
			"loaded": loaded,
		})
	}
	return okResult(map[string]any{"encodings": list})
}

func modelEncoding(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errResult("missing model argument")
	}
	name, err := encoding.EncodingNameForModel(args[0].String())
	if err != nil {
		return errResult(err.Error())
	}
	return okResult(map[string]any{"encoding": name})
}

// loadVocabAsync(name, bytes, pattern?, onProgress?) resolves once the engine
// is ready. pattern defaults to the registered one for name.
func loadVocabAsync(_ js.Value, args []js.Value) any {
	promiseCtor := js.Global().Get("Promise")
	var handler js.Func
	handler = js.FuncOf(func(_ js.Value, pArgs []js.Value) any {
		defer handler.Release()
		resolve := pArgs[0]
		reject := pArgs[1]

		if len(args) < 2 {
			reject.Invoke("loadVocab needs an encoding name and vocabulary bytes")
			return nil
		}

		name := args[0].String()
		vocabBytes, ok := copyJSBytes(args[1])
		if !ok || len(vocabBytes) == 0 {
			reject.Invoke("vocabulary bytes must be a non-empty Uint8Array/ArrayBuffer")
			return nil
		}

		pattern := ""
		if len(args) > 2 && args[2].Type() == js.TypeString {
			pattern = args[2].String()
		}

		var progress progressReporter
		if len(args) > 3 && args[3].Type() == js.TypeFunction {
			progress.cb = args[3]
		}

		go func() {
			res, err := loadVocab(name, pattern, vocabBytes, &progress)
			if err != nil {
				reject.Invoke(err.Error())
				return
			}
			resolve.Invoke(js.ValueOf(res))
		}()

		return nil
	})

	return promiseCtor.New(handler)
}

func loadVocab(name, pattern string, src []byte, progress *progressReporter) (map[string]any, error) {
	if pattern == "" {
		enc, err := encoding.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%w; pass a split pattern for a custom vocabulary", err)
		}
		pattern = enc.Pattern
	}

	progress.Emit("load", 10, 100, "parsing vocabulary")
	engine, err := tokenizer.New(pattern, bytes.NewReader(src),
		tokenizer.WithName(name),
		tokenizer.WithCacheSize(defaults.Tokenizer.CacheSize),
	)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary %s: %w", name, err)
	}

	enginesMu.Lock()
	old := engines[name]
	engines[name] = engine
	enginesMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	progress.Emit("done", 100, 100, "vocabulary ready")
	return okResult(map[string]any{
		"encoding":   name,
		"vocab_size": engine.Vocabulary().Len(),
	}), nil
}

func unload(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errResult("missing encoding argument")
	}

	enginesMu.Lock()
	engine, ok := engines[args[0].String()]
	delete(engines, args[0].String())
	enginesMu.Unlock()

	if ok {
		_ = engine.Close()
	}
	return okResult(map[string]any{"unloaded": ok})
}

func engineFor(args []js.Value, want int) (*tokenizer.BPE, error) {
	if len(args) < want {
		return nil, fmt.Errorf("expected %d arguments, got %d", want, len(args))
	}

	name := args[0].String()
	enginesMu.RLock()
	engine, ok := engines[name]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("encoding %q is not loaded; call loadVocab first", name)
	}
	return engine, nil
}

func encodeText(_ js.Value, args []js.Value) any {
	engine, err := engineFor(args, 2)
	if err != nil {
		return errResult(err.Error())
	}

	tokens, err := engine.Encode(args[1].String())
	if err != nil {
		return errResult(err.Error())
	}
	return okResult(map[string]any{"tokens": toJSArray(tokens)})
}

func decodeTokens(_ js.Value, args []js.Value) any {
	engine, err := engineFor(args, 2)
	if err != nil {
		return errResult(err.Error())
	}

	arr := args[1]
	n := arr.Length()
	tokens := make([]vocab.Rank, n)
	for i := range n {
		v := arr.Index(i).Int()
		if v < 0 {
			return errResult(fmt.Sprintf("token %d is negative", i))
		}
		tokens[i] = vocab.Rank(v)
	}

	text, err := engine.Decode(tokens)
	if err != nil {
		return errResult(err.Error())
	}
	return okResult(map[string]any{"text": text})
}

func countTokens(_ js.Value, args []js.Value) any {
	engine, err := engineFor(args, 2)
	if err != nil {
		return errResult(err.Error())
	}

	n, err := engine.Count(args[1].String())
	if err != nil {
		return errResult(err.Error())
	}
	return okResult(map[string]any{"count": n})
}

func encodeChunks(_ js.Value, args []js.Value) any {
	engine, err := engineFor(args, 3)
	if err != nil {
		return errResult(err.Error())
	}

	batches, err := engine.EncodeInChunks(args[1].String(), args[2].Int())
	if err != nil {
		return errResult(err.Error())
	}

	out := make([]any, len(batches))
	for i, b := range batches {
		out[i] = toJSArray(b)
	}
	return okResult(map[string]any{"chunks": out})
}

func toJSArray(tokens []vocab.Rank) []any {
	out := make([]any, len(tokens))
	for i, t := range tokens {
		out[i] = int(t)
	}
	return out
}

func copyJSBytes(v js.Value) ([]byte, bool) {
	if v.IsUndefined() || v.IsNull() {
		return nil, false
	}

	uint8Array := js.Global().Get("Uint8Array")
	if !uint8Array.IsUndefined() && v.InstanceOf(uint8Array) {
		buf := make([]byte, v.Get("length").Int())
		n := js.CopyBytesToGo(buf, v)
		return buf[:n], true
	}

	arrayBuffer := js.Global().Get("ArrayBuffer")
	if !arrayBuffer.IsUndefined() && v.InstanceOf(arrayBuffer) {
		wrapped := uint8Array.New(v)
		buf := make([]byte, wrapped.Get("length").Int())
		n := js.CopyBytesToGo(buf, wrapped)
		return buf[:n], true
	}

	return nil, false
}

func okResult(payload map[string]any) map[string]any {
	payload["ok"] = true
	return payload
}

func errResult(msg string) map[string]any {
	return map[string]any{
		"ok":    false,
		"error": msg,
	}
}
