package s3file

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Writer builds an in-memory S3 container, used by tests (and by any
// future model-export tooling) to produce bytes that Parse can read back.
type Writer struct {
	header  [][2]string
	chksum  bool
	swapped bool
	arrays  [][]float32
	shapes  [][]int
}

// NewWriter starts a writer. If swapped is true, the sentinel (and all
// subsequent arrays) are written in the non-native byte order, exercising
// Parse's byte-swap path.
func NewWriter(swapped bool) *Writer {
	return &Writer{swapped: swapped}
}

func (w *Writer) SetHeader(key, value string) {
	w.header = append(w.header, [2]string{key, value})
}

func (w *Writer) EnableChecksum() { w.chksum = true }

func (w *Writer) WriteArray(shape []int, data []float32) {
	w.shapes = append(w.shapes, shape)
	w.arrays = append(w.arrays, data)
}

func (w *Writer) order() binary.ByteOrder {
	if w.swapped {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Bytes serializes the accumulated header and arrays into an S3 container.
func (w *Writer) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("s3\n")
	for _, kv := range w.header {
		fmt.Fprintf(&buf, "%s %s\n", kv[0], kv[1])
	}
	if w.chksum {
		buf.WriteString("chksum0\n")
	}
	buf.WriteString("endhdr\n")

	order := w.order()
	var sentinel [4]byte
	order.PutUint32(sentinel[:], byteOrderSentinel)
	buf.Write(sentinel[:])

	var sum uint32
	putU32 := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf.Write(b[:])
		sum += v
	}

	for i, data := range w.arrays {
		for _, d := range w.shapes[i] {
			putU32(uint32(d))
		}
		for _, f := range data {
			putU32(math.Float32bits(f))
		}
	}
	if w.chksum {
		var b [4]byte
		order.PutUint32(b[:], sum)
		buf.Write(b[:])
	}
	return buf.Bytes()
}
