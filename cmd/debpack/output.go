//go:build !windows

package main

import (
	"github.com/google/renameio/v2"
)

// outputFile is a file that only replaces its destination on Commit.
type outputFile interface {
	Write(p []byte) (int, error)
	Commit() error
	Cleanup() error
}

type pendingFile struct {
	*renameio.PendingFile
}

func (f pendingFile) Commit() error { return f.CloseAtomicallyReplace() }

func createOutput(path string) (outputFile, error) {
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, err
	}
	return pendingFile{pf}, nil
}
