package logger

import "testing"

func TestPacketFilterDisabledByDefault(t *testing.T) {
	f := NewPacketFilter(false, nil)
	if f.Allows("chat") {
		t.Fatal("expected disabled filter to allow nothing")
	}
}

func TestPacketFilterEmptyTypesAllowsAll(t *testing.T) {
	f := NewPacketFilter(true, nil)
	if !f.Allows("chat") || !f.Allows("keep_alive") {
		t.Fatal("expected enabled filter with no types to allow everything")
	}
}

func TestPacketFilterRestrictsToListedTypes(t *testing.T) {
	f := NewPacketFilter(true, []string{"chat", "keep_alive"})
	if !f.Allows("chat") {
		t.Fatal("expected chat to be allowed")
	}
	if f.Allows("player_move") {
		t.Fatal("expected player_move to be filtered out")
	}
}

func TestPacketFilterNilReceiverAllowsNothing(t *testing.T) {
	var f *PacketFilter
	if f.Allows("chat") {
		t.Fatal("expected nil filter to allow nothing")
	}
}
