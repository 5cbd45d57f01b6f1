//go:build !(js && wasm)

package client

// DefaultHost returns NativeHost outside of the browser build.
func DefaultHost() Host {
	return NativeHost{}
}
