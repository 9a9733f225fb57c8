package ringfs

import (
	"bytes"
	"testing"
)

func TestSectorStatus_String(t *testing.T) {
	if SectorStatusFree.String() != "FREE" {
		t.Fatalf("FREE description not correct: [%s]", SectorStatusFree)
	}

	if SectorStatusFormatting.String() != "FORMATTING" {
		t.Fatalf("FORMATTING description not correct: [%s]", SectorStatusFormatting)
	}

	if SectorStatus(0x12345678).String() != "UNKNOWN<0x12345678>" {
		t.Fatalf("unknown description not correct: [%s]", SectorStatus(0x12345678))
	}
}

func TestSectorStatus_IsMountable(t *testing.T) {
	if SectorStatusFree.IsMountable() != true {
		t.Fatalf("FREE should be mountable.")
	}

	if SectorStatusInUse.IsMountable() != true {
		t.Fatalf("IN-USE should be mountable.")
	}

	if SectorStatusErasing.IsMountable() != false {
		t.Fatalf("ERASING should not be mountable.")
	}

	if SectorStatusFormatting.IsMountable() != false {
		t.Fatalf("FORMATTING should not be mountable.")
	}
}

func TestSectorStatus_NeedsRepair(t *testing.T) {
	if SectorStatusErased.NeedsRepair() != true {
		t.Fatalf("ERASED should need repair.")
	}

	if SectorStatusErasing.NeedsRepair() != true {
		t.Fatalf("ERASING should need repair.")
	}

	if SectorStatusFree.NeedsRepair() != false {
		t.Fatalf("FREE should not need repair.")
	}
}

func TestSlotStatus_String(t *testing.T) {
	if SlotStatusReserved.String() != "RESERVED" {
		t.Fatalf("RESERVED description not correct: [%s]", SlotStatusReserved)
	}

	if SlotStatusValid.String() != "VALID" {
		t.Fatalf("VALID description not correct: [%s]", SlotStatusValid)
	}
}

func TestStatusLadder_OnlyClearsBits(t *testing.T) {
	sectorLadder := []SectorStatus{
		SectorStatusErased,
		SectorStatusFree,
		SectorStatusInUse,
		SectorStatusErasing,
		SectorStatusFormatting,
	}

	for i := 1; i < len(sectorLadder); i++ {
		previous := uint32(sectorLadder[i-1])
		current := uint32(sectorLadder[i])

		if previous&current != current {
			t.Fatalf("sector transition sets bits: (0x%08x) -> (0x%08x)", previous, current)
		}
	}

	slotLadder := []SlotStatus{
		SlotStatusErased,
		SlotStatusReserved,
		SlotStatusValid,
		SlotStatusGarbage,
	}

	for i := 1; i < len(slotLadder); i++ {
		previous := uint32(slotLadder[i-1])
		current := uint32(slotLadder[i])

		if previous&current != current {
			t.Fatalf("slot transition sets bits: (0x%08x) -> (0x%08x)", previous, current)
		}
	}
}

func TestPackSectorHeader(t *testing.T) {
	sh := SectorHeader{
		Status:  SectorStatusInUse,
		Version: 0x01020304,
	}

	raw, err := packSectorHeader(sh)
	if err != nil {
		panic(err)
	}

	expected := []byte{0x00, 0x00, 0xff, 0xff, 0x04, 0x03, 0x02, 0x01}

	if bytes.Equal(raw, expected) != true {
		t.Fatalf("packed sector header not correct: [% x]", raw)
	}
}

func TestUnpackSectorHeader(t *testing.T) {
	raw := []byte{0x00, 0xff, 0xff, 0xff, 0x2a, 0x00, 0x00, 0x00}

	sh, err := unpackSectorHeader(raw)
	if err != nil {
		panic(err)
	}

	if sh.Status != SectorStatusFree {
		t.Fatalf("unpacked status not correct: [%s]", sh.Status)
	}

	if sh.Version != 0x2a {
		t.Fatalf("unpacked version not correct: (0x%08x)", sh.Version)
	}
}

func TestPackSlotHeader(t *testing.T) {
	raw, err := packSlotHeader(SlotHeader{Status: SlotStatusGarbage})
	if err != nil {
		panic(err)
	}

	expected := []byte{0x00, 0x00, 0x00, 0xff}

	if bytes.Equal(raw, expected) != true {
		t.Fatalf("packed slot header not correct: [% x]", raw)
	}
}

func TestUnpackSlotHeader(t *testing.T) {
	sh, err := unpackSlotHeader([]byte{0x00, 0x00, 0xff, 0xff})
	if err != nil {
		panic(err)
	}

	if sh.Status != SlotStatusValid {
		t.Fatalf("unpacked slot status not correct: [%s]", sh.Status)
	}
}
