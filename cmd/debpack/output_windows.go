package main

import (
	"os"
	"path/filepath"
)

// outputFile is a file that only replaces its destination on Commit.
type outputFile interface {
	Write(p []byte) (int, error)
	Commit() error
	Cleanup() error
}

// tempFile renames a temporary file over the destination; renameio has no
// Windows implementation.
type tempFile struct {
	*os.File
	path string
	done bool
}

func (f *tempFile) Commit() error {
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), f.path); err != nil {
		return err
	}
	f.done = true
	return nil
}

func (f *tempFile) Cleanup() error {
	if f.done {
		return nil
	}
	f.Close()
	return os.Remove(f.Name())
}

func createOutput(path string) (outputFile, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return nil, err
	}
	return &tempFile{File: f, path: path}, nil
}
