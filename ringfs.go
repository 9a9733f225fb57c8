// This package implements the ring instance: mount-time scan, the crash-
// safe append protocol, and oldest-first consumption.

package ringfs

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dsoprea/go-logging"
)

var (
	// ErrNoMoreRecords is returned by Fetch when the cursor has caught up
	// with the write head. It is a normal end-of-data condition, not a
	// failure, and is never wrapped.
	ErrNoMoreRecords = errors.New("no more records")
)

// Geometry locates the partition on the device. SectorOffset is expressed in
// sectors from the start of the device; SectorCount is the partition length
// in sectors.
type Geometry struct {
	SectorSize   uint32
	SectorOffset uint32
	SectorCount  uint32
}

// String returns a description of the geometry.
func (geometry Geometry) String() string {
	return fmt.Sprintf("Geometry<SECTOR-SIZE=(%d) SECTOR-OFFSET=(%d) SECTOR-COUNT=(%d)>", geometry.SectorSize, geometry.SectorOffset, geometry.SectorCount)
}

// RingFS is one FIFO ring over one flash partition. It is created with
// NewRingFS and becomes usable after either Format (destructive) or Scan
// (recovery). Instances over disjoint partitions are independent; a single
// instance must not be mutated concurrently.
type RingFS struct {
	flash    Flash
	geometry Geometry

	version    uint32
	objectSize int

	sectorCount    int
	slotsPerSector int

	read   Location
	write  Location
	cursor Location
}

// NewRingFS returns a new RingFS instance over the given partition. The
// flash capability is borrowed for the lifetime of the instance. version is
// the caller's schema version; a sector whose version differs will fail the
// mount. objectSize is the fixed record size in bytes.
func NewRingFS(flash Flash, geometry Geometry, version uint32, objectSize int) (rfs *RingFS, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if geometry.SectorCount < 2 {
		log.Panicf("partition needs at least two sectors: (%d)", geometry.SectorCount)
	}

	if geometry.SectorSize <= sectorHeaderSize {
		log.Panicf("sector-size not valid: (%d)", geometry.SectorSize)
	}

	slotSize := slotHeaderSize + objectSize

	if objectSize <= 0 || uint32(slotSize) > geometry.SectorSize-sectorHeaderSize {
		log.Panicf("object-size does not fit the sector geometry: (%d)", objectSize)
	}

	slotsPerSector := int(geometry.SectorSize-sectorHeaderSize) / slotSize

	rfs = &RingFS{
		flash:          flash,
		geometry:       geometry,
		version:        version,
		objectSize:     objectSize,
		sectorCount:    int(geometry.SectorCount),
		slotsPerSector: slotsPerSector,
	}

	return rfs, nil
}

// Version returns the schema version the instance was created with.
func (rfs *RingFS) Version() uint32 {
	return rfs.version
}

// ObjectSize returns the fixed record size in bytes.
func (rfs *RingFS) ObjectSize() int {
	return rfs.objectSize
}

// SlotsPerSector returns how many record slots fit in one sector.
func (rfs *RingFS) SlotsPerSector() int {
	return rfs.slotsPerSector
}

// Capacity returns how many records the ring can hold. One sector is
// structurally reserved to keep a FREE rotation buffer at all times.
func (rfs *RingFS) Capacity() int {
	return rfs.slotsPerSector * (rfs.sectorCount - 1)
}

// ReadPosition returns the current read location (oldest undiscarded
// record).
func (rfs *RingFS) ReadPosition() Location {
	return rfs.read
}

// WritePosition returns the current write location (next slot to be
// populated).
func (rfs *RingFS) WritePosition() Location {
	return rfs.write
}

// CursorPosition returns the current fetch location.
func (rfs *RingFS) CursorPosition() Location {
	return rfs.cursor
}

func (rfs *RingFS) sectorGetHeader(sector int) (sh SectorHeader, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	raw := make([]byte, sectorHeaderSize)

	err = rfs.flash.Read(rfs.sectorHeaderAddress(sector), raw)
	log.PanicIf(err)

	sh, err = unpackSectorHeader(raw)
	log.PanicIf(err)

	return sh, nil
}

func (rfs *RingFS) sectorGetStatus(sector int) (status SectorStatus, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	sh, err := rfs.sectorGetHeader(sector)
	log.PanicIf(err)

	return sh.Status, nil
}

// sectorSetStatus programs a new status word. The caller is responsible for
// only ever stepping down the ladder; the program is an AND, so an illegal
// step would silently produce a different value than requested.
func (rfs *RingFS) sectorSetStatus(sector int, status SectorStatus) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	raw := make([]byte, 4)
	defaultEncoding.PutUint32(raw, uint32(status))

	err = rfs.flash.Program(rfs.sectorHeaderAddress(sector), raw)
	log.PanicIf(err)

	return nil
}

func (rfs *RingFS) sectorSetVersion(sector int) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	raw := make([]byte, 4)
	defaultEncoding.PutUint32(raw, rfs.version)

	err = rfs.flash.Program(rfs.sectorHeaderAddress(sector)+4, raw)
	log.PanicIf(err)

	return nil
}

// sectorFree drives one sector through the crash-safe erase protocol:
// ERASING, physical erase, version, FREE. Interrupting it at any point
// leaves a status (ERASING or ERASED) that the next scan recognizes and
// re-drives through this same function.
func (rfs *RingFS) sectorFree(sector int) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	err = rfs.sectorSetStatus(sector, SectorStatusErasing)
	log.PanicIf(err)

	err = rfs.flash.Erase(rfs.sectorAddress(sector))
	log.PanicIf(err)

	err = rfs.sectorSetVersion(sector)
	log.PanicIf(err)

	err = rfs.sectorSetStatus(sector, SectorStatusFree)
	log.PanicIf(err)

	return nil
}

func (rfs *RingFS) slotGetStatus(loc Location) (status SlotStatus, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	raw := make([]byte, slotHeaderSize)

	err = rfs.flash.Read(rfs.slotAddress(loc), raw)
	log.PanicIf(err)

	sh, err := unpackSlotHeader(raw)
	log.PanicIf(err)

	return sh.Status, nil
}

func (rfs *RingFS) slotSetStatus(loc Location, status SlotStatus) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	raw, err := packSlotHeader(SlotHeader{Status: status})
	log.PanicIf(err)

	err = rfs.flash.Program(rfs.slotAddress(loc), raw)
	log.PanicIf(err)

	return nil
}

// Format converts arbitrary flash contents into a valid empty ring. The wipe
// is two-phase: first every sector is stamped FORMATTING, then every sector
// is erased to FREE. A power cut between the phases leaves FORMATTING
// sectors, which Scan refuses, so a partial format can never be mistaken for
// a mounted ring.
func (rfs *RingFS) Format() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	for sector := 0; sector < rfs.sectorCount; sector++ {
		err = rfs.sectorSetStatus(sector, SectorStatusFormatting)
		log.PanicIf(err)
	}

	for sector := 0; sector < rfs.sectorCount; sector++ {
		err = rfs.sectorFree(sector)
		log.PanicIf(err)
	}

	rfs.read = Location{}
	rfs.write = Location{}
	rfs.cursor = Location{}

	return nil
}

// Scan rebuilds the read, write, and cursor positions from on-flash state
// alone. Sectors caught mid-erase are silently completed. A FORMATTING
// sector, an unknown status word, a schema-version mismatch, or the absence
// of any FREE sector fails the mount; the caller's recourse is Format.
func (rfs *RingFS) Scan() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	previousStatus := SectorStatusFree

	freeSeen := false
	usedSeen := false

	// The write sector defaults to the last index so that an IN-USE run
	// ending at the partition boundary (with the FREE rotation sector
	// wrapped around to index zero) resolves without a FREE-after-IN-USE
	// transition ever being observed in index order.

	readSector := 0
	writeSector := rfs.sectorCount - 1

	for sector := 0; sector < rfs.sectorCount; sector++ {
		sh, err := rfs.sectorGetHeader(sector)
		log.PanicIf(err)

		status := sh.Status

		if status == SectorStatusFormatting {
			log.Panicf("interrupted format detected at sector (%d); reformat required", sector)
		}

		if status.NeedsRepair() == true {
			err = rfs.sectorFree(sector)
			log.PanicIf(err)

			status = SectorStatusFree
		}

		if status.IsMountable() != true {
			log.Panicf("sector (%d) has an unknown status: [%s]", sector, status)
		}

		if status == SectorStatusInUse {
			if sh.Version != rfs.version {
				log.Panicf("sector (%d) has incompatible version: (0x%08x) != (0x%08x)", sector, sh.Version, rfs.version)
			}

			usedSeen = true

			if previousStatus == SectorStatusFree {
				readSector = sector
			}
		} else {
			freeSeen = true

			if previousStatus == SectorStatusInUse {
				writeSector = sector - 1
			}
		}

		previousStatus = status
	}

	if freeSeen != true {
		log.Panicf("no free sector; ring invariant destroyed on medium")
	}

	if usedSeen != true {
		readSector = 0
		writeSector = 0
	}

	// Find the append point: the first never-written slot of the write
	// sector. Torn RESERVED slots are not ERASED, so the write head lands
	// after them and they stay dead until the sector is recycled.

	write := Location{Sector: writeSector}

	for write.Sector == writeSector {
		status, err := rfs.slotGetStatus(write)
		log.PanicIf(err)

		if status == SlotStatusErased {
			break
		}

		write = rfs.advanceSlot(write)
	}

	// Find the oldest live record at or after the start of the read
	// sector.

	read := Location{Sector: readSector}

	for read != write {
		status, err := rfs.slotGetStatus(read)
		log.PanicIf(err)

		if status == SlotStatusValid {
			break
		}

		read = rfs.advanceSlot(read)
	}

	rfs.read = read
	rfs.write = write
	rfs.cursor = read

	return nil
}

// Append adds one record at the head of the ring. When the ring is full the
// oldest sector is reclaimed first, so an append never fails for lack of
// space; records are lost oldest-first instead.
//
// The commit is two-phase: the slot is marked RESERVED, the payload is
// programmed, and only then is the slot marked VALID. A power cut mid-append
// leaves a RESERVED slot that no reader will ever return.
func (rfs *RingFS) Append(object []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if len(object) == 0 || len(object) > rfs.objectSize {
		log.Panicf("payload length not valid for object-size (%d): (%d)", rfs.objectSize, len(object))
	}

	// Keep the sector ahead of the write head FREE. If the read and cursor
	// positions sit in the sector about to be reclaimed, they are moved
	// out before the erase so the consumer never observes erased payloads.

	next := (rfs.write.Sector + 1) % rfs.sectorCount

	nextStatus, err := rfs.sectorGetStatus(next)
	log.PanicIf(err)

	if nextStatus != SectorStatusFree {
		if rfs.read.Sector == next {
			rfs.read = rfs.advanceSector(rfs.read)
		}

		if rfs.cursor.Sector == next {
			rfs.cursor = rfs.advanceSector(rfs.cursor)
		}

		err = rfs.sectorFree(next)
		log.PanicIf(err)
	}

	// Claim the write sector on first touch.

	writeSectorStatus, err := rfs.sectorGetStatus(rfs.write.Sector)
	log.PanicIf(err)

	if writeSectorStatus == SectorStatusFree {
		err = rfs.sectorSetStatus(rfs.write.Sector, SectorStatusInUse)
		log.PanicIf(err)
	} else if writeSectorStatus != SectorStatusInUse {
		log.Panicf("write sector (%d) is neither free nor in-use: [%s]", rfs.write.Sector, writeSectorStatus)
	}

	err = rfs.slotSetStatus(rfs.write, SlotStatusReserved)
	log.PanicIf(err)

	err = rfs.flash.Program(rfs.slotAddress(rfs.write)+slotHeaderSize, object)
	log.PanicIf(err)

	err = rfs.slotSetStatus(rfs.write, SlotStatusValid)
	log.PanicIf(err)

	rfs.write = rfs.advanceSlot(rfs.write)

	return nil
}

// Fetch copies the next record into object, which must hold at least
// ObjectSize bytes, and advances the cursor past it. Slots that are not
// VALID (torn RESERVED writes, discarded GARBAGE) are skipped silently.
// Returns ErrNoMoreRecords when the cursor has reached the write head.
func (rfs *RingFS) Fetch(object []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if len(object) < rfs.objectSize {
		log.Panicf("fetch buffer too small for object-size (%d): (%d)", rfs.objectSize, len(object))
	}

	for rfs.cursor != rfs.write {
		status, err := rfs.slotGetStatus(rfs.cursor)
		log.PanicIf(err)

		if status != SlotStatusValid {
			rfs.cursor = rfs.advanceSlot(rfs.cursor)
			continue
		}

		err = rfs.flash.Read(rfs.slotAddress(rfs.cursor)+slotHeaderSize, object[:rfs.objectSize])
		log.PanicIf(err)

		rfs.cursor = rfs.advanceSlot(rfs.cursor)

		return nil
	}

	return ErrNoMoreRecords
}

// Discard acknowledges everything fetched so far: every slot from the read
// position up to the cursor is marked GARBAGE and the read position catches
// up. Sectors are never erased here; reclamation happens under append
// pressure.
func (rfs *RingFS) Discard() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	for rfs.read != rfs.cursor {
		err = rfs.slotSetStatus(rfs.read, SlotStatusGarbage)
		log.PanicIf(err)

		rfs.read = rfs.advanceSlot(rfs.read)
	}

	return nil
}

// DiscardOne marks the single slot at the read position GARBAGE and advances
// past it. It is unconditional: calling it on an empty ring corrupts the
// positions, and guarding against that is the caller's responsibility.
func (rfs *RingFS) DiscardOne() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	discarded := rfs.read

	err = rfs.slotSetStatus(rfs.read, SlotStatusGarbage)
	log.PanicIf(err)

	rfs.read = rfs.advanceSlot(rfs.read)

	if rfs.cursor == discarded {
		rfs.cursor = rfs.read
	}

	return nil
}

// Rewind resets the cursor to the oldest undiscarded record so that
// everything not yet discarded is fetched again.
func (rfs *RingFS) Rewind() {
	rfs.cursor = rfs.read
}

// CountEstimate returns the slot distance between the read and write
// positions in O(1). GARBAGE and torn RESERVED slots in the window are
// counted too, so the estimate never undershoots CountExact.
func (rfs *RingFS) CountEstimate() int {
	sectors := (rfs.write.Sector - rfs.read.Sector + rfs.sectorCount) % rfs.sectorCount

	return sectors*rfs.slotsPerSector + rfs.write.Slot - rfs.read.Slot
}

// CountExact walks the window between the read and write positions and
// counts the VALID slots. O(n) in the window size.
func (rfs *RingFS) CountExact() (count int, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	for loc := rfs.read; loc != rfs.write; loc = rfs.advanceSlot(loc) {
		status, err := rfs.slotGetStatus(loc)
		log.PanicIf(err)

		if status == SlotStatusValid {
			count++
		}
	}

	return count, nil
}

// EraseSector reclaims the given sector off the hot path. Append does the
// same work inline when it finds the next sector unreclaimed, so calling
// this from a low-priority task is a hint, not a requirement.
func (rfs *RingFS) EraseSector(sector int) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	err = rfs.sectorFree(sector)
	log.PanicIf(err)

	return nil
}

// Dump prints the geometry, the per-sector state map, and the in-RAM
// positions.
func (rfs *RingFS) Dump() {
	fmt.Printf("RingFS\n")
	fmt.Printf("======\n")
	fmt.Printf("\n")

	fmt.Printf("SectorSize: (%d)\n", rfs.geometry.SectorSize)
	fmt.Printf("SectorOffset: (%d)\n", rfs.geometry.SectorOffset)
	fmt.Printf("SectorCount: (%d)\n", rfs.geometry.SectorCount)
	fmt.Printf("ObjectSize: (%d)\n", rfs.objectSize)
	fmt.Printf("Version: (0x%08x)\n", rfs.version)
	fmt.Printf("SlotsPerSector: (%d)\n", rfs.slotsPerSector)
	fmt.Printf("Capacity: (%d)\n", rfs.Capacity())
	fmt.Printf("\n")

	fmt.Printf("Read: %s\n", rfs.read)
	fmt.Printf("Write: %s\n", rfs.write)
	fmt.Printf("Cursor: %s\n", rfs.cursor)
	fmt.Printf("\n")

	for sector := 0; sector < rfs.sectorCount; sector++ {
		sh, err := rfs.sectorGetHeader(sector)
		if err != nil {
			fmt.Printf("Sector (%d): unreadable\n", sector)
			continue
		}

		counts := make(map[SlotStatus]int)

		for slot := 0; slot < rfs.slotsPerSector; slot++ {
			status, err := rfs.slotGetStatus(Location{Sector: sector, Slot: slot})
			if err != nil {
				break
			}

			counts[status]++
		}

		fmt.Printf("Sector (%d): [%s] version=(0x%08x) valid=(%d) garbage=(%d) reserved=(%d) erased=(%d)\n",
			sector, sh.Status, sh.Version,
			counts[SlotStatusValid], counts[SlotStatusGarbage], counts[SlotStatusReserved], counts[SlotStatusErased])
	}
}
