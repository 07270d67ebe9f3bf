//go:build darwin || linux || freebsd

package lzma

import (
	"runtime"

	"github.com/ebitengine/purego"
)

type platformLoader struct{}

func (platformLoader) open(name string) (uintptr, error) {
	return purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func (platformLoader) sym(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

var libraryNames = func() []string {
	if runtime.GOOS == "darwin" {
		return []string{
			"liblzma.5.dylib",
			"liblzma.dylib",
			"/opt/homebrew/lib/liblzma.5.dylib",
			"/opt/homebrew/lib/liblzma.dylib",
			"/usr/local/lib/liblzma.5.dylib",
			"/usr/local/lib/liblzma.dylib",
		}
	}
	return []string{"liblzma.so.5", "liblzma.so"}
}()

var remediation = func() string {
	switch runtime.GOOS {
	case "darwin":
		return "install it with `brew install xz` or set " + EnvLibrary
	case "freebsd":
		return "install it with `pkg install xz` or set " + EnvLibrary
	}
	return "install it with `apt-get install liblzma5` (or your distribution's xz-libs package) or set " + EnvLibrary
}()
