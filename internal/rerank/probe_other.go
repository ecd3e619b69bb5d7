//go:build !darwin && !linux

package rerank

// nativeRuntimeAvailable is false off darwin/linux; the local
// cross-encoder runtime is not supported there.
func nativeRuntimeAvailable() bool { return false }
