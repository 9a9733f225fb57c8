package ringfs

import (
	"bytes"
	"testing"

	"github.com/dsoprea/go-logging"
)

func TestNewRingFS_GeometryChecks(t *testing.T) {
	mf := NewMemoryFlash(testSectorSize, 1)

	geometry := Geometry{
		SectorSize:   testSectorSize,
		SectorOffset: 0,
		SectorCount:  1,
	}

	_, err := NewRingFS(mf, geometry, testVersion, testObjectSize)
	if err == nil {
		t.Fatalf("single-sector partition should be rejected.")
	}

	geometry.SectorCount = 4

	_, err = NewRingFS(mf, geometry, testVersion, testSectorSize)
	if err == nil {
		t.Fatalf("oversized object should be rejected.")
	}
}

func TestRingFS_DerivedGeometry(t *testing.T) {
	_, rfs := newTestRingFS()

	if rfs.SlotsPerSector() != 15 {
		t.Fatalf("slots-per-sector not correct: (%d)", rfs.SlotsPerSector())
	}

	if rfs.Capacity() != 45 {
		t.Fatalf("capacity not correct: (%d)", rfs.Capacity())
	}
}

func TestRingFS_AppendFetchRoundTrip(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	err := rfs.Append([]byte{0x01, 0x02, 0x03, 0x04})
	log.PanicIf(err)

	object := make([]byte, testObjectSize)

	err = rfs.Fetch(object)
	log.PanicIf(err)

	if bytes.Equal(object, []byte{0x01, 0x02, 0x03, 0x04}) != true {
		t.Fatalf("fetched payload not correct: [% x]", object)
	}

	err = rfs.Fetch(object)
	if err != ErrNoMoreRecords {
		t.Fatalf("empty fetch should report no more records: [%v]", err)
	}
}

func TestRingFS_FetchOrder(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	for i := 1; i <= 45; i++ {
		err := rfs.Append(testRecord(i))
		log.PanicIf(err)
	}

	count, err := rfs.CountExact()
	log.PanicIf(err)

	if count != 45 {
		t.Fatalf("full-ring count not correct: (%d)", count)
	}

	object := make([]byte, testObjectSize)

	for i := 1; i <= 45; i++ {
		err := rfs.Fetch(object)
		log.PanicIf(err)

		if bytes.Equal(object, testRecord(i)) != true {
			t.Fatalf("record (%d) out of order: [% x]", i, object)
		}
	}

	err = rfs.Fetch(object)
	if err != ErrNoMoreRecords {
		t.Fatalf("exhausted ring should report no more records: [%v]", err)
	}
}

func TestRingFS_RingOverwrite(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	// One more than capacity: the first sector (records 1..15) is
	// recycled to keep a free rotation sector ahead of the write head.

	for i := 1; i <= 46; i++ {
		err := rfs.Append(testRecord(i))
		log.PanicIf(err)
	}

	count, err := rfs.CountExact()
	log.PanicIf(err)

	if count < 30 || count > 45 {
		t.Fatalf("post-rotation count not plausible: (%d)", count)
	}

	object := make([]byte, testObjectSize)

	err = rfs.Fetch(object)
	log.PanicIf(err)

	if bytes.Equal(object, testRecord(16)) != true {
		t.Fatalf("oldest surviving record not correct: [% x]", object)
	}
}

func TestRingFS_OverwriteKeepsLastCapacityRecords(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	total := 3 * 45

	for i := 1; i <= total; i++ {
		err := rfs.Append(testRecord(i))
		log.PanicIf(err)
	}

	object := make([]byte, testObjectSize)

	// Everything fetchable was appended, in order, and the survivors are
	// a suffix of the appends.

	first := -1
	previous := -1

	for {
		err := rfs.Fetch(object)
		if err == ErrNoMoreRecords {
			break
		}

		log.PanicIf(err)

		i := int(object[0]) | int(object[3])<<8

		if first == -1 {
			first = i
		} else if i != previous+1 {
			t.Fatalf("fetch sequence broken: (%d) after (%d)", i, previous)
		}

		previous = i
	}

	if previous != total {
		t.Fatalf("newest record lost: (%d) != (%d)", previous, total)
	}

	if total-first+1 > rfs.Capacity() {
		t.Fatalf("more survivors than capacity: (%d)", total-first+1)
	}
}

func TestRingFS_CountEstimateDominatesExact(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	for i := 1; i <= 20; i++ {
		err := rfs.Append(testRecord(i))
		log.PanicIf(err)
	}

	object := make([]byte, testObjectSize)

	// Consume part of the ring so the window no longer starts at the
	// origin.

	for i := 0; i < 5; i++ {
		err := rfs.Fetch(object)
		log.PanicIf(err)
	}

	err := rfs.Discard()
	log.PanicIf(err)

	for i := 0; i < 3; i++ {
		err := rfs.Fetch(object)
		log.PanicIf(err)
	}

	exact, err := rfs.CountExact()
	log.PanicIf(err)

	estimate := rfs.CountEstimate()

	if estimate < exact {
		t.Fatalf("estimate undershoots exact: (%d) < (%d)", estimate, exact)
	}

	if exact != 15 {
		t.Fatalf("exact count not correct: (%d)", exact)
	}
}

func TestRingFS_DiscardAdvancesRead(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	for i := 1; i <= 10; i++ {
		err := rfs.Append(testRecord(i))
		log.PanicIf(err)
	}

	object := make([]byte, testObjectSize)

	for i := 0; i < 4; i++ {
		err := rfs.Fetch(object)
		log.PanicIf(err)
	}

	err := rfs.Discard()
	log.PanicIf(err)

	if rfs.ReadPosition() != rfs.CursorPosition() {
		t.Fatalf("read did not catch up with cursor: %s != %s", rfs.ReadPosition(), rfs.CursorPosition())
	}

	count, err := rfs.CountExact()
	log.PanicIf(err)

	if count != 6 {
		t.Fatalf("post-discard count not correct: (%d)", count)
	}

	// The discarded records are gone even after a rewind.

	rfs.Rewind()

	err = rfs.Fetch(object)
	log.PanicIf(err)

	if bytes.Equal(object, testRecord(5)) != true {
		t.Fatalf("first record after discard not correct: [% x]", object)
	}
}

func TestRingFS_DiscardOne(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	for i := 1; i <= 3; i++ {
		err := rfs.Append(testRecord(i))
		log.PanicIf(err)
	}

	err := rfs.DiscardOne()
	log.PanicIf(err)

	object := make([]byte, testObjectSize)

	err = rfs.Fetch(object)
	log.PanicIf(err)

	if bytes.Equal(object, testRecord(2)) != true {
		t.Fatalf("record after single discard not correct: [% x]", object)
	}

	count, err := rfs.CountExact()
	log.PanicIf(err)

	if count != 2 {
		t.Fatalf("count after single discard not correct: (%d)", count)
	}
}

func TestRingFS_RewindReplays(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	err := rfs.Append([]byte{0xaa, 0xbb, 0xcc, 0xdd})
	log.PanicIf(err)

	object := make([]byte, testObjectSize)

	err = rfs.Fetch(object)
	log.PanicIf(err)

	err = rfs.Fetch(object)
	if err != ErrNoMoreRecords {
		t.Fatalf("ring should be exhausted: [%v]", err)
	}

	rfs.Rewind()

	err = rfs.Fetch(object)
	log.PanicIf(err)

	if bytes.Equal(object, []byte{0xaa, 0xbb, 0xcc, 0xdd}) != true {
		t.Fatalf("replayed payload not correct: [% x]", object)
	}
}

func TestRingFS_SectorBoundaryAppend(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	// Fill sector zero exactly.

	for i := 1; i <= 15; i++ {
		err := rfs.Append(testRecord(i))
		log.PanicIf(err)
	}

	if rfs.WritePosition() != (Location{Sector: 1, Slot: 0}) {
		t.Fatalf("write head not at sector boundary: %s", rfs.WritePosition())
	}

	// The next record lands in sector one and the sector two ahead of it
	// stays free, upholding the rotation invariant.

	err := rfs.Append(testRecord(16))
	log.PanicIf(err)

	if rfs.WritePosition() != (Location{Sector: 1, Slot: 1}) {
		t.Fatalf("write head not in next sector: %s", rfs.WritePosition())
	}

	status, err := rfs.sectorGetStatus(2)
	log.PanicIf(err)

	if status != SectorStatusFree {
		t.Fatalf("sector ahead of write head not free: [%s]", status)
	}
}

func TestRingFS_ShortPayloadPads(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	err := rfs.Append([]byte{0x7f})
	log.PanicIf(err)

	object := make([]byte, testObjectSize)

	err = rfs.Fetch(object)
	log.PanicIf(err)

	// Unprogrammed payload bytes read back erased.

	if bytes.Equal(object, []byte{0x7f, 0xff, 0xff, 0xff}) != true {
		t.Fatalf("short payload not correct: [% x]", object)
	}
}

func TestRingFS_AppendPayloadChecks(t *testing.T) {
	_, rfs := newFormattedTestRingFS()

	if err := rfs.Append(nil); err == nil {
		t.Fatalf("empty payload should be rejected.")
	}

	if err := rfs.Append(make([]byte, testObjectSize+1)); err == nil {
		t.Fatalf("oversized payload should be rejected.")
	}
}

func TestRingFS_FetchBufferCheck(t *testing.T) {
	_, rfs := newFormattedTestRingFS()

	if err := rfs.Fetch(make([]byte, testObjectSize-1)); err == nil {
		t.Fatalf("undersized fetch buffer should be rejected.")
	}
}

func TestRingFS_EraseSector(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	for i := 1; i <= 45; i++ {
		err := rfs.Append(testRecord(i))
		log.PanicIf(err)
	}

	object := make([]byte, testObjectSize)

	for i := 1; i <= 45; i++ {
		err := rfs.Fetch(object)
		log.PanicIf(err)
	}

	err := rfs.Discard()
	log.PanicIf(err)

	// Reclaim a fully-consumed sector off the hot path, the way a
	// background task would.

	err = rfs.EraseSector(0)
	log.PanicIf(err)

	status, err := rfs.sectorGetStatus(0)
	log.PanicIf(err)

	if status != SectorStatusFree {
		t.Fatalf("externally-erased sector not free: [%s]", status)
	}
}

func TestRingFS_SectorFreeIdempotentOnFree(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, rfs := newFormattedTestRingFS()

	err := rfs.sectorFree(1)
	log.PanicIf(err)

	status, err := rfs.sectorGetStatus(1)
	log.PanicIf(err)

	if status != SectorStatusFree {
		t.Fatalf("re-freed sector not free: [%s]", status)
	}
}
