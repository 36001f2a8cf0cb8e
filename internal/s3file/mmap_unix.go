//go:build linux || darwin

package s3file

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapRead maps path read-only, mirroring original_source/src/mmio.c's
// mmap_file: the whole acoustic-model artifact is made available as a
// byte slice without copying it into the Go heap.
func mmapRead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return nil, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return data, nil
}
