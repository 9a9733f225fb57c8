package ringfs

import (
	"fmt"
)

// Location names one slot on the partition as a (sector, slot) pair. The
// three in-RAM positions of an instance (read, write, cursor) are Locations.
type Location struct {
	Sector int
	Slot   int
}

// String returns a description of the location.
func (loc Location) String() string {
	return fmt.Sprintf("Location<SECTOR=(%d) SLOT=(%d)>", loc.Sector, loc.Slot)
}

// advanceSector moves the location to the first slot of the next sector,
// wrapping at the end of the partition.
func (rfs *RingFS) advanceSector(loc Location) Location {
	loc.Slot = 0
	loc.Sector = (loc.Sector + 1) % rfs.sectorCount

	return loc
}

// advanceSlot moves the location forward by one slot, rolling into the next
// sector when the current one runs out.
func (rfs *RingFS) advanceSlot(loc Location) Location {
	loc.Slot++

	if loc.Slot >= rfs.slotsPerSector {
		loc = rfs.advanceSector(loc)
	}

	return loc
}

// sectorAddress returns the device byte-address of the given sector index.
func (rfs *RingFS) sectorAddress(sector int) uint32 {
	return (rfs.geometry.SectorOffset + uint32(sector)) * rfs.geometry.SectorSize
}

// sectorHeaderAddress returns the device byte-address of the given sector's
// header, which occupies the final bytes of the sector.
func (rfs *RingFS) sectorHeaderAddress(sector int) uint32 {
	return rfs.sectorAddress(sector) + rfs.geometry.SectorSize - sectorHeaderSize
}

// slotAddress returns the device byte-address of the slot header at loc.
func (rfs *RingFS) slotAddress(loc Location) uint32 {
	slotSize := uint32(slotHeaderSize + rfs.objectSize)

	return rfs.sectorAddress(loc.Sector) + uint32(loc.Slot)*slotSize
}
