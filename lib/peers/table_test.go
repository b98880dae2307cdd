package peers

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"
)

func entry(ip, name string, status Status) Entry {
	e := Entry{VirtualIP: netip.MustParseAddr(ip), Name: name, Status: status}
	if status != Unreachable {
		e.Route = &Route{Transport: Datagram, Metric: 1, RTT: 10 * time.Millisecond}
	}
	return e
}

func TestTable_Empty(t *testing.T) {
	var tbl Table

	list := tbl.List()
	if list == nil || len(list) != 0 {
		t.Errorf("List() = %v, want empty non-nil slice", list)
	}
	if tbl.Len() != 0 || tbl.Generation() != 0 {
		t.Error("empty table should have no entries and generation 0")
	}
	if _, ok := tbl.Get(netip.MustParseAddr("10.26.0.2")); ok {
		t.Error("Get() on empty table should report false")
	}
	if c := tbl.Counts(); c[Direct] != 0 || len(c) != 3 {
		t.Errorf("Counts() = %v", c)
	}
}

func TestTable_ReplaceOrdersByAddress(t *testing.T) {
	tbl := NewTable()
	err := tbl.Replace([]Entry{
		entry("10.26.0.9", "c", Relayed),
		entry("10.26.0.2", "a", Direct),
		entry("10.26.0.10", "d", Unreachable),
		entry("10.26.0.3", "b", Direct),
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	want := []string{"a", "b", "c", "d"}
	list := tbl.List()
	if len(list) != len(want) {
		t.Fatalf("List() len = %d, want %d", len(list), len(want))
	}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("List()[%d] = %q, want %q", i, list[i].Name, name)
		}
	}

	counts := tbl.Counts()
	if counts[Direct] != 2 || counts[Relayed] != 1 || counts[Unreachable] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
}

func TestTable_RoundTrip(t *testing.T) {
	tbl := NewTable()
	in := Entry{
		VirtualIP: netip.MustParseAddr("10.26.0.5"),
		Name:      "nas",
		Status:    Direct,
		Route: &Route{
			Transport: Datagram,
			Address:   netip.MustParseAddrPort("203.0.113.4:29872"),
			Metric:    0,
			RTT:       5 * time.Millisecond,
		},
		Encrypted: true,
	}
	if err := tbl.Replace([]Entry{in}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	out, ok := tbl.Get(in.VirtualIP)
	if !ok {
		t.Fatal("Get() should find the entry")
	}
	if out.VirtualIP != in.VirtualIP || out.Name != in.Name || out.Status != in.Status || out.Encrypted != in.Encrypted {
		t.Errorf("Get() = %+v, want %+v", out, in)
	}
	if out.Route == nil || *out.Route != *in.Route {
		t.Errorf("Route = %+v, want %+v", out.Route, in.Route)
	}
	if out.Route == in.Route {
		t.Error("Get() should not hand out the caller's route pointer")
	}
}

func TestTable_ReplaceIsWholesale(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Replace([]Entry{entry("10.26.0.2", "a", Direct), entry("10.26.0.3", "b", Direct)})
	_ = tbl.Replace([]Entry{entry("10.26.0.3", "b", Unreachable)})

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
	b, _ := tbl.Get(netip.MustParseAddr("10.26.0.3"))
	if b.Status != Unreachable || b.Route != nil {
		t.Errorf("stale fields survived refresh: %+v", b)
	}
	if tbl.Generation() != 2 {
		t.Errorf("Generation() = %d, want 2", tbl.Generation())
	}
}

func TestTable_ReplaceRejects(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Replace([]Entry{entry("10.26.0.2", "a", Direct)})

	err := tbl.Replace([]Entry{entry("10.26.0.3", "b", Direct), entry("10.26.0.3", "c", Relayed)})
	if !IsDuplicate(err) {
		t.Errorf("Replace() error = %v, want DuplicateError", err)
	}

	err = tbl.Replace([]Entry{{Name: "nobody"}})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Replace() error = %v, want ErrInvalidAddress", err)
	}

	list := tbl.List()
	if len(list) != 1 || list[0].Name != "a" {
		t.Errorf("failed Replace() changed the table: %v", list)
	}
	if tbl.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", tbl.Generation())
	}
}

func TestTable_CallerMutationDoesNotLeak(t *testing.T) {
	tbl := NewTable()
	in := []Entry{entry("10.26.0.2", "a", Direct)}
	_ = tbl.Replace(in)

	in[0].Name = "mutated"
	in[0].Route.Metric = 99

	list := tbl.List()
	list[0].Route.RTT = time.Hour

	got, _ := tbl.Get(netip.MustParseAddr("10.26.0.2"))
	if got.Name != "a" || got.Route.Metric != 1 || got.Route.RTT != 10*time.Millisecond {
		t.Errorf("table entry was mutated through a shared reference: %+v", got)
	}
}

func TestTable_ConcurrentReaders(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			n := i%3 + 1
			entries := make([]Entry, 0, n)
			for j := 0; j < n; j++ {
				e := entry("10.26.0.2", "peer", Direct)
				e.VirtualIP = netip.AddrFrom4([4]byte{10, 26, 0, byte(2 + j)})
				e.Route.Metric = uint8(n)
				entries = append(entries, e)
			}
			_ = tbl.Replace(entries)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				list := tbl.List()
				// Every entry in one snapshot carries the snapshot size as its metric.
				for _, e := range list {
					if int(e.Route.Metric) != len(list) {
						t.Errorf("inconsistent snapshot: metric %d in list of %d", e.Route.Metric, len(list))
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	if tbl.Generation() != 200 {
		t.Errorf("Generation() = %d, want 200", tbl.Generation())
	}
}
