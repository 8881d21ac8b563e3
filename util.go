package raft

import (
	"io/fs"
	"os"
)

// createDirectoryIfNotExist checks whether directory d exists and creates
// it (and any missing parents) if not.
func createDirectoryIfNotExist(d string, perm fs.FileMode) error {
	if _, err := os.Stat(d); os.IsNotExist(err) {
		return os.MkdirAll(d, perm)
	}
	return nil
}
