package ringfs

import (
	"github.com/dsoprea/go-logging"
)

// MemoryFlash simulates a NOR-flash device in RAM. Program performs the same
// bitwise-AND that real NOR hardware does, so state-machine transitions that
// would be illegal on hardware (setting a cleared bit) are just as inert here.
type MemoryFlash struct {
	sectorSize uint32
	data       []byte
}

// NewMemoryFlash returns a blank (fully-erased) device of the given geometry.
func NewMemoryFlash(sectorSize, sectorCount uint32) *MemoryFlash {
	data := make([]byte, sectorSize*sectorCount)
	for i := range data {
		data[i] = 0xff
	}

	return &MemoryFlash{
		sectorSize: sectorSize,
		data:       data,
	}
}

// NewMemoryFlashFromBytes wraps an existing device image. The image is used
// in place, not copied.
func NewMemoryFlashFromBytes(sectorSize uint32, data []byte) *MemoryFlash {
	return &MemoryFlash{
		sectorSize: sectorSize,
		data:       data,
	}
}

// Bytes exposes the raw device image.
func (mf *MemoryFlash) Bytes() []byte {
	return mf.data
}

// Erase resets the whole sector containing addr to 0xff.
func (mf *MemoryFlash) Erase(addr uint32) (err error) {
	if addr >= uint32(len(mf.data)) {
		return log.Errorf("erase address out of device: (0x%08x)", addr)
	}

	base := addr - addr%mf.sectorSize

	for i := base; i < base+mf.sectorSize; i++ {
		mf.data[i] = 0xff
	}

	return nil
}

// Program ANDs data into the device at addr.
func (mf *MemoryFlash) Program(addr uint32, data []byte) (err error) {
	if addr+uint32(len(data)) > uint32(len(mf.data)) {
		return log.Errorf("program range out of device: (0x%08x) (%d)", addr, len(data))
	}

	for i, b := range data {
		mf.data[addr+uint32(i)] &= b
	}

	return nil
}

// Read fills buf from the device at addr.
func (mf *MemoryFlash) Read(addr uint32, buf []byte) (err error) {
	if addr+uint32(len(buf)) > uint32(len(mf.data)) {
		return log.Errorf("read range out of device: (0x%08x) (%d)", addr, len(buf))
	}

	copy(buf, mf.data[addr:addr+uint32(len(buf))])

	return nil
}
