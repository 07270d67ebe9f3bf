//go:build !darwin && !linux && !freebsd && !windows

package lzma

import (
	"errors"
	"runtime"
)

type platformLoader struct{}

func (platformLoader) open(string) (uintptr, error) {
	return 0, errors.New("no dynamic loader support on " + runtime.GOOS)
}

func (platformLoader) sym(uintptr, string) (uintptr, error) {
	return 0, errors.New("no dynamic loader support on " + runtime.GOOS)
}

var libraryNames []string

const remediation = "native xz is unavailable on this platform; use gzip compression"
