package store

import "os"

func writeGarbageFile(path string) error {
	return os.WriteFile(path, []byte("not a valid snapshot"), 0o644)
}
