//go:build debug

package tag

const debugTag = true
