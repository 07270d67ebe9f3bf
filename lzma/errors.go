package lzma

import (
	"errors"
	"fmt"
)

var (
	ErrMem              = errors.New("lzma: cannot allocate memory")
	ErrMemLimit         = errors.New("lzma: memory usage limit reached")
	ErrOptions          = errors.New("lzma: unsupported options")
	ErrFormat           = errors.New("lzma: file format not recognized")
	ErrData             = errors.New("lzma: compressed data is corrupt")
	ErrBuf              = errors.New("lzma: unexpected end of input")
	ErrUnsupportedCheck = errors.New("lzma: unsupported integrity check")
	ErrProg             = errors.New("lzma: internal error")

	// ErrLibraryNotFound is returned by Load when no liblzma could be opened.
	ErrLibraryNotFound = errors.New("lzma: liblzma not found")
	// ErrSymbolNotFound is returned by Load when the library lacks a required
	// entry point.
	ErrSymbolNotFound = errors.New("lzma: symbol not found")
)

// Error reports a failed codec call.
type Error struct {
	Op   string
	Code Ret
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Unwrap().Error(), e.Code)
}

// Unwrap returns the sentinel error matching the result code.
func (e *Error) Unwrap() error {
	switch e.Code {
	case MemError:
		return ErrMem
	case MemLimitError:
		return ErrMemLimit
	case OptionsError:
		return ErrOptions
	case FormatError:
		return ErrFormat
	case DataError:
		return ErrData
	case BufError:
		return ErrBuf
	case UnsupportedCheck:
		return ErrUnsupportedCheck
	}
	return ErrProg
}

// Err converts a result code into an error. OK and StreamEnd are successes.
func (r Ret) Err(op string) error {
	if r == OK || r == StreamEnd {
		return nil
	}
	return &Error{Op: op, Code: r}
}
