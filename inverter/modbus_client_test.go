package inverter

import (
	"encoding/binary"
	"testing"

	"github.com/oskarsson/solkvot/decision"
)

func TestRegCursorSequentialReads(t *testing.T) {
	data := make([]byte, 14)
	binary.BigEndian.PutUint32(data[0:4], 1700000000)
	binary.BigEndian.PutUint16(data[4:6], 60) // timezone, skipped
	binary.BigEndian.PutUint16(data[6:8], 7)  // EMS work mode
	binary.BigEndian.PutUint16(data[8:10], 1) // grid sensor flag, skipped
	negVal := int32(-2500)
	binary.BigEndian.PutUint32(data[10:14], uint32(negVal))

	cur := &regCursor{data: data}
	if got := cur.u32(); got != 1700000000 {
		t.Fatalf("u32() = %d, want 1700000000", got)
	}
	cur.skip(1)
	if got := cur.u16(); got != 7 {
		t.Fatalf("u16() after skip = %d, want 7", got)
	}
	cur.skip(1)
	if got := cur.s32(); got != -2500 {
		t.Fatalf("s32() = %d, want -2500", got)
	}
}

func TestPlantSnapshotAlarmed(t *testing.T) {
	var clean PlantSnapshot
	if clean.Alarmed() {
		t.Fatal("zero-value snapshot should not report alarmed")
	}

	alarmed := PlantSnapshot{Alarms: [4]uint16{0, 0, 0x0002, 0}}
	if !alarmed.Alarmed() {
		t.Fatal("snapshot with a set alarm bit should report alarmed")
	}
}

func TestActionModesCoverAllActions(t *testing.T) {
	for _, action := range []decision.Action{
		decision.Idle, decision.Charge, decision.Discharge, decision.SelfConsume, decision.SelfConsumeGrid,
	} {
		if _, ok := actionModes[action]; !ok {
			t.Fatalf("no actionMode entry for action %v", action)
		}
	}
}
