//go:build windows

package lzma

import (
	"golang.org/x/sys/windows"
)

type platformLoader struct{}

func (platformLoader) open(name string) (uintptr, error) {
	h, err := windows.LoadLibrary(name)
	return uintptr(h), err
}

func (platformLoader) sym(handle uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(handle), name)
}

var libraryNames = []string{"lzma.dll", "liblzma.dll", "liblzma-5.dll"}

const remediation = "place lzma.dll from the xz-utils Windows build next to the executable or set " + EnvLibrary
