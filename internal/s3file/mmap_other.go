//go:build !linux && !darwin

package s3file

import "errors"

// mmapRead has no portable implementation outside unix; readWholeFile
// falls back to a plain read on these platforms.
func mmapRead(path string) ([]byte, error) {
	return nil, errors.New("mmap not supported on this platform")
}
