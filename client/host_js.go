//go:build js && wasm

package client

import (
	"fmt"
	"net/url"
	"syscall/js"
)

type browserHost struct{}

// DefaultHost returns the page the wasm module was loaded from.
func DefaultHost() Host {
	return browserHost{}
}

func (browserHost) InBrowser() bool { return true }

func (browserHost) PageURL() (u *url.URL, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("read window.location: %v", rec)
		}
	}()
	href := js.Global().Get("location").Get("href")
	if href.Type() != js.TypeString {
		return nil, fmt.Errorf("window.location.href is not available")
	}
	return url.Parse(href.String())
}
