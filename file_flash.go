package ringfs

import (
	"os"

	"github.com/dsoprea/go-logging"
)

// FileFlash adapts a device-image file to the Flash contract. Program reads
// the current contents back first so that the bitwise-AND semantics of NOR
// hardware are preserved on the image, which keeps images produced by tools
// interchangeable with dumps of real parts.
type FileFlash struct {
	f          *os.File
	sectorSize uint32
}

// NewFileFlash wraps an already-open image file. The file must be open for
// both reading and writing and remains owned by the caller.
func NewFileFlash(f *os.File, sectorSize uint32) *FileFlash {
	return &FileFlash{
		f:          f,
		sectorSize: sectorSize,
	}
}

// OpenFileFlash opens the image at filepath read/write.
func OpenFileFlash(filepath string, sectorSize uint32) (ff *FileFlash, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	f, err := os.OpenFile(filepath, os.O_RDWR, 0644)
	log.PanicIf(err)

	return NewFileFlash(f, sectorSize), nil
}

// Close closes the underlying file.
func (ff *FileFlash) Close() (err error) {
	return ff.f.Close()
}

// Erase resets the whole sector containing addr to 0xff.
func (ff *FileFlash) Erase(addr uint32) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	base := addr - addr%ff.sectorSize

	blank := make([]byte, ff.sectorSize)
	for i := range blank {
		blank[i] = 0xff
	}

	_, err = ff.f.WriteAt(blank, int64(base))
	log.PanicIf(err)

	return nil
}

// Program ANDs data into the image at addr.
func (ff *FileFlash) Program(addr uint32, data []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	current := make([]byte, len(data))

	_, err = ff.f.ReadAt(current, int64(addr))
	log.PanicIf(err)

	for i, b := range data {
		current[i] &= b
	}

	_, err = ff.f.WriteAt(current, int64(addr))
	log.PanicIf(err)

	return nil
}

// Read fills buf from the image at addr.
func (ff *FileFlash) Read(addr uint32, buf []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	_, err = ff.f.ReadAt(buf, int64(addr))
	log.PanicIf(err)

	return nil
}
