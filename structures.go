// This package manages the low-level, on-flash storage structures.

package ringfs

import (
	"fmt"

	"encoding/binary"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

var (
	defaultEncoding = binary.LittleEndian
)

const (
	// sectorHeaderSize is the space the SectorHeader occupies at the very
	// end of each sector.
	sectorHeaderSize = 8

	// slotHeaderSize is the space the SlotHeader occupies at the front of
	// each slot.
	slotHeaderSize = 4
)

// SectorStatus is the lifecycle state of one sector. Because flash programs
// can only clear bits, the states form a monotone ladder: every legal
// transition ANDs the previous value down to the next one. A value that sets
// a bit relative to the current state cannot be produced by hardware, which
// is what makes the ladder recoverable after an arbitrary power cut.
type SectorStatus uint32

const (
	// SectorStatusErased is the post-erase state. The erase itself leaves
	// all bits set; a sector observed in this state was interrupted between
	// its physical erase and the FREE commit.
	SectorStatusErased SectorStatus = 0xffffffff

	// SectorStatusFree marks a fully-erased sector whose version field has
	// been written and which is ready to accept records.
	SectorStatusFree SectorStatus = 0xffffff00

	// SectorStatusInUse marks a sector holding one or more record slots.
	SectorStatusInUse SectorStatus = 0xffff0000

	// SectorStatusErasing marks a sector whose physical erase has been
	// scheduled but not yet confirmed complete.
	SectorStatusErasing SectorStatus = 0xff000000

	// SectorStatusFormatting is programmed into every sector as the first
	// phase of a global format. Observing it at mount time means the second
	// phase never completed.
	SectorStatusFormatting SectorStatus = 0x00000000
)

// String returns a description of the sector status.
func (ss SectorStatus) String() string {
	switch ss {
	case SectorStatusErased:
		return "ERASED"
	case SectorStatusFree:
		return "FREE"
	case SectorStatusInUse:
		return "IN-USE"
	case SectorStatusErasing:
		return "ERASING"
	case SectorStatusFormatting:
		return "FORMATTING"
	}

	return fmt.Sprintf("UNKNOWN<0x%08x>", uint32(ss))
}

// IsMountable indicates that the scan can accept the sector as-is, without
// repair.
func (ss SectorStatus) IsMountable() bool {
	return ss == SectorStatusFree || ss == SectorStatusInUse
}

// NeedsRepair indicates an erase that was interrupted and must be re-driven
// to completion.
func (ss SectorStatus) NeedsRepair() bool {
	return ss == SectorStatusErased || ss == SectorStatusErasing
}

// SlotStatus is the lifecycle state of one record slot. Like SectorStatus,
// the values form a bit-clearing ladder.
type SlotStatus uint32

const (
	// SlotStatusErased means the slot has never been written since the
	// enclosing sector's last erase.
	SlotStatusErased SlotStatus = 0xffffffff

	// SlotStatusReserved is programmed before the payload. A slot observed
	// RESERVED without a later VALID is a torn write and carries no
	// readable record.
	SlotStatusReserved SlotStatus = 0xffffff00

	// SlotStatusValid commits the payload. Only VALID slots are ever
	// returned to a reader.
	SlotStatusValid SlotStatus = 0xffff0000

	// SlotStatusGarbage marks a consumed record.
	SlotStatusGarbage SlotStatus = 0xff000000
)

// String returns a description of the slot status.
func (ss SlotStatus) String() string {
	switch ss {
	case SlotStatusErased:
		return "ERASED"
	case SlotStatusReserved:
		return "RESERVED"
	case SlotStatusValid:
		return "VALID"
	case SlotStatusGarbage:
		return "GARBAGE"
	}

	return fmt.Sprintf("UNKNOWN<0x%08x>", uint32(ss))
}

// SectorHeader occupies the final eight bytes of every sector. Placing it at
// the end keeps the version field, written during reformat, intact until the
// final status transition of the erase protocol.
type SectorHeader struct {
	// Status is one of the SectorStatus ladder values. Any other value
	// invalidates the sector and fails the mount.
	Status SectorStatus

	// Version is the user-chosen schema version, programmed immediately
	// after the physical erase. A mismatch against the mounting
	// configuration fails the mount; the expectation is that the caller
	// then reformats.
	Version uint32
}

// String returns a description of the sector header.
func (sh SectorHeader) String() string {
	return fmt.Sprintf("SectorHeader<STATUS=[%s] VERSION=(0x%08x)>", sh.Status, sh.Version)
}

// DumpBareIndented prints the sector header with arbitrary indentation.
func (sh SectorHeader) DumpBareIndented(indent string) {
	fmt.Printf("%sStatus: [%s] (0x%08x)\n", indent, sh.Status, uint32(sh.Status))
	fmt.Printf("%sVersion: (0x%08x)\n", indent, sh.Version)
}

// SlotHeader is the four bytes in front of every record payload.
type SlotHeader struct {
	// Status is one of the SlotStatus ladder values.
	Status SlotStatus
}

// String returns a description of the slot header.
func (sh SlotHeader) String() string {
	return fmt.Sprintf("SlotHeader<STATUS=[%s]>", sh.Status)
}

func packSectorHeader(sh SectorHeader) (raw []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	raw, err = restruct.Pack(defaultEncoding, &sh)
	log.PanicIf(err)

	return raw, nil
}

func unpackSectorHeader(raw []byte) (sh SectorHeader, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	err = restruct.Unpack(raw, defaultEncoding, &sh)
	log.PanicIf(err)

	return sh, nil
}

func packSlotHeader(sh SlotHeader) (raw []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	raw, err = restruct.Pack(defaultEncoding, &sh)
	log.PanicIf(err)

	return raw, nil
}

func unpackSlotHeader(raw []byte) (sh SlotHeader, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	err = restruct.Unpack(raw, defaultEncoding, &sh)
	log.PanicIf(err)

	return sh, nil
}
