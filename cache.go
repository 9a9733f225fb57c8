// This package implements the page-coalescing write buffer.

package ringfs

import (
	"github.com/dsoprea/go-logging"
)

// PageBuffer batches small writes into full flash objects. Devices whose
// program granularity is one page append most efficiently when one object
// equals one page; the buffer fills in RAM and is flushed as a single Append
// when the next write would overflow it.
//
// The buffer capacity equals the instance's object size. It shares the
// instance's single-caller contract.
type PageBuffer struct {
	rfs  *RingFS
	data []byte
	fill int
}

// NewPageBuffer returns an empty buffer over the given instance.
func NewPageBuffer(rfs *RingFS) *PageBuffer {
	return &PageBuffer{
		rfs:  rfs,
		data: make([]byte, rfs.ObjectSize()),
	}
}

// Fill returns how many buffered bytes have not been flushed yet.
func (pb *PageBuffer) Fill() int {
	return pb.fill
}

// Append adds data to the buffer, flushing to flash whenever the buffer
// cannot take the next chunk whole. Returns the number of bytes consumed,
// which is always len(data) unless the flush fails.
func (pb *PageBuffer) Append(data []byte) (n int, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	for len(data) > 0 {
		if pb.fill+len(data) > len(pb.data) && pb.fill > 0 {
			err = pb.Flush()
			log.PanicIf(err)
		}

		taken := copy(pb.data[pb.fill:], data)
		pb.fill += taken
		data = data[taken:]
		n += taken
	}

	return n, nil
}

// Flush appends the buffered bytes as one object and resets the fill level.
// Flushing an empty buffer is a no-op.
func (pb *PageBuffer) Flush() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if pb.fill == 0 {
		return nil
	}

	err = pb.rfs.Append(pb.data[:pb.fill])
	log.PanicIf(err)

	pb.fill = 0

	return nil
}
