package eventbus

import (
	"slices"
	"testing"
)

var (
	subA = Subscriber{ReplyTo: "reply/a", ID: "a"}
	subB = Subscriber{ReplyTo: "reply/b", ID: "b"}
	subC = Subscriber{ReplyTo: "reply/c", ID: "c"}
)

func TestTable_RegisterIdempotent(t *testing.T) {
	tbl := NewTable()
	f := Filter{DeviceID: "d1"}

	if !tbl.Register(f, subA) {
		t.Fatal("first Register() = false")
	}
	if tbl.Register(f, subA) {
		t.Error("second Register() = true")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}

func TestTable_ThreeTierLookup(t *testing.T) {
	tbl := NewTable()
	global := Subscriber{ReplyTo: "r", ID: "global"}
	scope := Subscriber{ReplyTo: "r", ID: "scope"}
	device := Subscriber{ReplyTo: "r", ID: "device"}

	tbl.Register(Filter{}, global)
	tbl.Register(Filter{NetworkID: 5, DeviceTypeID: 2}, scope)
	tbl.Register(Filter{NetworkID: 5, DeviceTypeID: 2, DeviceID: "X"}, device)

	got := tbl.Lookup(Filter{NetworkID: 5, DeviceTypeID: 2, DeviceID: "X"})
	if want := []Subscriber{device, global, scope}; !slices.Equal(got, want) {
		t.Errorf("Lookup(X) = %v, want %v", got, want)
	}

	got = tbl.Lookup(Filter{NetworkID: 5, DeviceTypeID: 2, DeviceID: "Y"})
	if want := []Subscriber{global, scope}; !slices.Equal(got, want) {
		t.Errorf("Lookup(Y) = %v, want %v", got, want)
	}
}

func TestTable_LookupUsesSecondKey(t *testing.T) {
	tbl := NewTable()
	tbl.Register(Filter{DeviceID: "d", EventName: "notification", Name: "temp"}, subA)

	if got := tbl.Lookup(Filter{DeviceID: "d", EventName: "notification", Name: "temp"}); len(got) != 1 {
		t.Errorf("Lookup(matching name) = %v", got)
	}
	if got := tbl.Lookup(Filter{DeviceID: "d", EventName: "notification", Name: "humidity"}); len(got) != 0 {
		t.Errorf("Lookup(other name) = %v, want none", got)
	}
}

func TestTable_LookupReturnsCopy(t *testing.T) {
	tbl := NewTable()
	tbl.Register(Filter{}, subA)
	got := tbl.Lookup(Filter{})
	got[0] = subB

	if again := tbl.Lookup(Filter{}); again[0] != subA {
		t.Error("mutating Lookup() result changed the table")
	}
}

func TestTable_UnregisterCompleteness(t *testing.T) {
	tbl := NewTable()
	f1 := Filter{DeviceID: "d1"}
	f2 := Filter{NetworkID: 3, Name: "alarm"}
	tbl.Register(f1, subA)
	tbl.Register(f2, subA)
	tbl.Register(f1, subB)

	if n := tbl.Unregister(subA); n != 2 {
		t.Errorf("Unregister() = %d, want 2", n)
	}
	if n := tbl.Unregister(subA); n != 0 {
		t.Errorf("second Unregister() = %d, want 0", n)
	}

	for _, f := range []Filter{f1, f2, {}, {NetworkID: 3, DeviceID: "d1", Name: "alarm"}} {
		if slices.Contains(tbl.Lookup(f), subA) {
			t.Errorf("Lookup(%v) still returns unregistered subscriber", f)
		}
	}
	if !slices.Contains(tbl.Lookup(f1), subB) {
		t.Error("unrelated subscriber removed")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}

func TestTable_UnregisterFilter(t *testing.T) {
	tbl := NewTable()
	f1 := Filter{DeviceID: "d1"}
	f2 := Filter{DeviceID: "d2"}
	tbl.Register(f1, subA)
	tbl.Register(f2, subA)

	if !tbl.UnregisterFilter(f1, subA) {
		t.Fatal("UnregisterFilter() = false")
	}
	if tbl.UnregisterFilter(f1, subA) {
		t.Error("second UnregisterFilter() = true")
	}
	if !slices.Contains(tbl.Lookup(f2), subA) {
		t.Error("other filter of subscriber removed")
	}
}

func TestTable_RemoveDevice(t *testing.T) {
	tbl := NewTable()
	tbl.Register(Filter{NetworkID: 1, DeviceTypeID: 1, DeviceID: "d1"}, subA)
	tbl.Register(Filter{DeviceID: "d1", Name: "temp"}, subB)
	tbl.Register(Filter{NetworkID: 1, DeviceTypeID: 1, DeviceID: "d2"}, subC)
	tbl.Register(Filter{NetworkID: 1, DeviceTypeID: 1}, subB)

	if n := tbl.RemoveDevice("d1"); n != 2 {
		t.Errorf("RemoveDevice() = %d, want 2", n)
	}
	if got := tbl.Lookup(Filter{NetworkID: 1, DeviceTypeID: 1, DeviceID: "d1"}); slices.Contains(got, subA) {
		t.Error("device subscriber survived cascade")
	}
	if got := tbl.Lookup(Filter{NetworkID: 1, DeviceTypeID: 1, DeviceID: "d2"}); !slices.Contains(got, subC) {
		t.Error("subscriber of another device removed")
	}
	if got := tbl.Lookup(Filter{NetworkID: 1, DeviceTypeID: 1, DeviceID: "d9"}); !slices.Contains(got, subB) {
		t.Error("scope subscriber removed by device cascade")
	}
	if n := tbl.RemoveDevice("d1"); n != 0 {
		t.Errorf("second RemoveDevice() = %d, want 0", n)
	}
}

func TestTable_RemoveNetwork(t *testing.T) {
	tbl := NewTable()
	tbl.Register(Filter{NetworkID: 1}, subA)
	tbl.Register(Filter{NetworkID: 1, DeviceTypeID: 4}, subA)
	tbl.Register(Filter{DeviceID: "d1"}, subB)
	tbl.Register(Filter{NetworkID: 2}, subC)

	if n := tbl.RemoveNetwork(1, []string{"d1"}); n != 3 {
		t.Errorf("RemoveNetwork() = %d, want 3", n)
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
	if got := tbl.Lookup(Filter{NetworkID: 2}); !slices.Contains(got, subC) {
		t.Error("other network subscriber removed")
	}
}

func TestTable_RemoveDeviceType(t *testing.T) {
	tbl := NewTable()
	tbl.Register(Filter{DeviceTypeID: 9}, subA)
	tbl.Register(Filter{NetworkID: 1, DeviceTypeID: 9, DeviceID: "d1"}, subB)
	tbl.Register(Filter{DeviceTypeID: 8}, subC)

	if n := tbl.RemoveDeviceType(9, nil); n != 2 {
		t.Errorf("RemoveDeviceType() = %d, want 2", n)
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}

func TestTable_CloneIsIndependent(t *testing.T) {
	tbl := NewTable()
	tbl.Register(Filter{DeviceID: "d"}, subA)
	c := tbl.Clone()
	c.Register(Filter{DeviceID: "d"}, subB)
	c.RemoveDevice("d")

	if tbl.Len() != 1 {
		t.Errorf("original Len() = %d, want 1", tbl.Len())
	}
	if c.Len() != 0 {
		t.Errorf("clone Len() = %d, want 0", c.Len())
	}
}

func TestTable_Registrations(t *testing.T) {
	tbl := NewTable()
	tbl.Register(Filter{DeviceID: "d2"}, subB)
	tbl.Register(Filter{DeviceID: "d1"}, subA)
	tbl.Register(Filter{}, subA)

	all := tbl.Registrations(nil)
	if len(all) != 3 {
		t.Fatalf("len(Registrations()) = %d, want 3", len(all))
	}
	if all[0].Subscriber != subA || all[2].Subscriber != subB {
		t.Errorf("Registrations() not sorted: %v", all)
	}

	onlyB := tbl.Registrations(func(s Subscriber) bool { return s == subB })
	if len(onlyB) != 1 || onlyB[0].Filter.DeviceID != "d2" {
		t.Errorf("Registrations(keep) = %v", onlyB)
	}
}
