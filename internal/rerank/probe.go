//go:build darwin || linux

package rerank

import (
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

var probeOnce sync.Once
var probeOK bool

// nativeRuntimeAvailable checks once whether the process can load
// native libraries, which the local cross-encoder runtime requires.
func nativeRuntimeAvailable() bool {
	probeOnce.Do(func() {
		var lib string
		switch runtime.GOOS {
		case "darwin":
			lib = "/usr/lib/libSystem.B.dylib"
		default:
			lib = "libc.so.6"
		}
		handle, err := purego.Dlopen(lib, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			probeOK = false
			return
		}
		_ = purego.Dlclose(handle)
		probeOK = true
	})
	return probeOK
}
