// Package s3file reads the "S3" binary container used for acoustic model
// artifacts (means, variances, mixture weights, transition matrices, MLLR
// transforms): an ASCII header followed by a byte-order sentinel and a
// sequence of dimension-prefixed typed arrays, optionally checksummed.
//
// Grounded on original_source/src/mmio.c's memory-mapped loading strategy:
// the file is mapped once with golang.org/x/sys/unix.Mmap, and each array
// is decoded from that mapping into its own newly allocated slice.
// Platforms without mmap read the whole file into memory instead.
package s3file

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/soundswallower/soundswallower-go/internal/errs"
)

// byteOrderSentinel is written by the S3 writer as the first 4 bytes of
// binary data, in the writer's native byte order. Reading it back tells us
// whether the rest of the file needs byte-swapping.
const byteOrderSentinel uint32 = 0x11223344

// File is a parsed S3 container: header key/value pairs plus a cursor over
// the remaining binary array section.
type File struct {
	Header map[string]string
	swap   bool
	data   []byte // remaining bytes after the sentinel, mapped or read
	pos    int
	hasSum bool
	sum    uint32
}

// Open reads path and parses its S3 header, leaving the binary array
// section ready to be consumed with ReadArray1D/2D/3D in the order the
// arrays were written.
func Open(path string) (*File, error) {
	raw, err := readWholeFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "open s3 file "+path, err)
	}
	return Parse(raw)
}

// Parse parses an already-loaded S3 byte slice, as used by tests and by
// the round-trip property test that constructs bytes in memory.
func Parse(raw []byte) (*File, error) {
	f := &File{Header: map[string]string{}}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	if !scanner.Scan() {
		return nil, errs.New(errs.InvalidModel, "empty s3 file")
	}
	if strings.TrimRight(scanner.Text(), "\r\n") != "s3" {
		return nil, errs.New(errs.InvalidModel, "missing s3 magic header")
	}

	consumed := len("s3\n")
	for scanner.Scan() {
		line := scanner.Text()
		consumed += len(line) + 1
		if line == "endhdr" {
			break
		}
		if line == "chksum0" {
			f.hasSum = true
			continue
		}
		kv := strings.SplitN(line, " ", 2)
		if len(kv) == 2 {
			f.Header[kv[0]] = kv[1]
		}
	}

	// Recompute consumed by scanning raw bytes directly, since
	// bufio.Scanner may have buffered ahead of what it reported through
	// Text(); find "endhdr\n" explicitly to be exact.
	idx := bytes.Index(raw, []byte("endhdr\n"))
	if idx < 0 {
		return nil, errs.New(errs.InvalidModel, "missing endhdr")
	}
	off := idx + len("endhdr\n")

	if off+4 > len(raw) {
		return nil, errs.New(errs.InvalidModel, "truncated s3 file: missing byte-order sentinel")
	}
	sentinel := binary.LittleEndian.Uint32(raw[off : off+4])
	switch sentinel {
	case byteOrderSentinel:
		f.swap = false
	case swapUint32(byteOrderSentinel):
		f.swap = true
	default:
		return nil, errs.New(errs.InvalidModel, fmt.Sprintf("bad byte-order sentinel %#x", sentinel))
	}
	f.data = raw[off+4:]
	return f, nil
}

func swapUint32(v uint32) uint32 {
	return v<<24 | (v&0xff00)<<8 | (v&0xff0000)>>8 | v>>24
}

func (f *File) order() binary.ByteOrder {
	if f.swap {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (f *File) readUint32() (uint32, error) {
	if f.pos+4 > len(f.data) {
		return 0, errs.New(errs.InvalidModel, "unexpected end of s3 data")
	}
	v := f.order().Uint32(f.data[f.pos : f.pos+4])
	f.pos += 4
	if f.hasSum {
		f.sum += v
	}
	return v, nil
}

// ReadArray1D reads one dimension-prefixed float32 vector.
func (f *File) ReadArray1D() ([]float32, error) {
	n, err := f.readUint32()
	if err != nil {
		return nil, err
	}
	return f.readFloats(int(n))
}

// ReadArray2D reads a dimension-prefixed d0 x d1 float32 matrix, returned
// row-major as a flat slice alongside its declared shape.
func (f *File) ReadArray2D() (data []float32, d0, d1 int, err error) {
	n0, err := f.readUint32()
	if err != nil {
		return nil, 0, 0, err
	}
	n1, err := f.readUint32()
	if err != nil {
		return nil, 0, 0, err
	}
	data, err = f.readFloats(int(n0) * int(n1))
	return data, int(n0), int(n1), err
}

// ReadArray3D reads a dimension-prefixed d0 x d1 x d2 float32 array flat.
func (f *File) ReadArray3D() (data []float32, d0, d1, d2 int, err error) {
	n0, err := f.readUint32()
	if err != nil {
		return nil, 0, 0, 0, err
	}
	n1, err := f.readUint32()
	if err != nil {
		return nil, 0, 0, 0, err
	}
	n2, err := f.readUint32()
	if err != nil {
		return nil, 0, 0, 0, err
	}
	data, err = f.readFloats(int(n0) * int(n1) * int(n2))
	return data, int(n0), int(n1), int(n2), err
}

func (f *File) readFloats(n int) ([]float32, error) {
	need := n * 4
	if f.pos+need > len(f.data) {
		return nil, errs.New(errs.InvalidModel, "unexpected end of s3 data reading float array")
	}
	out := make([]float32, n)
	order := f.order()
	for i := 0; i < n; i++ {
		bits := order.Uint32(f.data[f.pos : f.pos+4])
		out[i] = math.Float32frombits(bits)
		if f.hasSum {
			f.sum += bits
		}
		f.pos += 4
	}
	return out, nil
}

// VerifyChecksum reads the trailing 4-byte rolling checksum (if the header
// declared chksum0) and compares it against the running sum accumulated
// while reading arrays. Call after all expected arrays have been read.
func (f *File) VerifyChecksum() error {
	if !f.hasSum {
		return nil
	}
	stored, err := f.readUint32WithoutAccumulating()
	if err != nil {
		return err
	}
	if stored != f.sum {
		return errs.New(errs.InvalidModel, fmt.Sprintf("s3 checksum mismatch: got %#x want %#x", f.sum, stored))
	}
	return nil
}

func (f *File) readUint32WithoutAccumulating() (uint32, error) {
	if f.pos+4 > len(f.data) {
		return 0, errs.New(errs.InvalidModel, "missing trailing checksum")
	}
	v := f.order().Uint32(f.data[f.pos : f.pos+4])
	f.pos += 4
	return v, nil
}

func readWholeFile(path string) ([]byte, error) {
	data, err := mmapRead(path)
	if err == nil {
		return data, nil
	}
	// Fall back to a plain read on platforms/filesystems where mmap is
	// unavailable (e.g. some container overlay filesystems).
	f, oerr := os.Open(path)
	if oerr != nil {
		return nil, oerr
	}
	defer f.Close()
	return io.ReadAll(f)
}
