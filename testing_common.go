package ringfs

// Shared fixture geometry: 128-byte sectors, four sectors, four-byte
// records. Slot size is 8 (4 header + 4 payload), the sector header takes
// the last 8 bytes, so 15 slots fit per sector and the ring holds 45
// records.

const (
	testSectorSize  = 128
	testSectorCount = 4
	testObjectSize  = 4
	testVersion     = 0x0000002a
)

func newTestRingFS() (mf *MemoryFlash, rfs *RingFS) {
	mf = NewMemoryFlash(testSectorSize, testSectorCount)

	geometry := Geometry{
		SectorSize:   testSectorSize,
		SectorOffset: 0,
		SectorCount:  testSectorCount,
	}

	rfs, err := NewRingFS(mf, geometry, testVersion, testObjectSize)
	if err != nil {
		panic(err)
	}

	return mf, rfs
}

func newFormattedTestRingFS() (mf *MemoryFlash, rfs *RingFS) {
	mf, rfs = newTestRingFS()

	err := rfs.Format()
	if err != nil {
		panic(err)
	}

	return mf, rfs
}

func testRecord(i int) []byte {
	return []byte{byte(i), 0, 0, byte(i >> 8)}
}
