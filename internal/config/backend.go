package config

import (
	"fmt"
	"strings"
)

const (
	BackendNative = "native"
	BackendLib    = "lib"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendNative
	}
	switch backend {
	case BackendNative, BackendLib:
		return backend, nil
	case "go":
		return BackendNative, nil
	case "ffi", "shared":
		return BackendLib, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s)",
			raw,
			BackendNative,
			BackendLib,
		)
	}
}
