package depthcache

import "testing"

func TestApplySnapshot_DropsZeroQtyAndSetsID(t *testing.T) {
	d := New()
	d.ApplySnapshot(Snapshot{
		LastUpdateID: 100,
		Bids:         [][2]string{{"10.0", "1.0"}, {"9.5", "0"}},
		Asks:         [][2]string{{"10.5", "2.0"}, {"11.0", "0.0"}},
	})

	f := d.Formatted()
	if f.LastUpdateID != 100 {
		t.Fatalf("expected lastUpdateID 100, got %d", f.LastUpdateID)
	}
	if len(f.Bids) != 1 || f.Bids[0].Price != "10.0" {
		t.Fatalf("expected single bid at 10.0, got %+v", f.Bids)
	}
	if len(f.Asks) != 1 || f.Asks[0].Price != "10.5" {
		t.Fatalf("expected single ask at 10.5, got %+v", f.Asks)
	}
}

// Property 3 — Depth monotonicity: updates with finalUpdateId <= lastUpdateId
// must be dropped, and lastUpdateID must never decrease.
func TestApplyUpdate_DropsStale(t *testing.T) {
	d := New()
	d.ApplySnapshot(Snapshot{LastUpdateID: 100, Bids: [][2]string{{"10.0", "1.0"}}})

	applied := d.ApplyUpdate(Update{FinalUpdateID: 100, Bids: [][2]string{{"10.0", "5.0"}}})
	if applied {
		t.Fatal("expected update with finalUpdateId == lastUpdateId to be dropped")
	}
	applied = d.ApplyUpdate(Update{FinalUpdateID: 50, Bids: [][2]string{{"10.0", "5.0"}}})
	if applied {
		t.Fatal("expected stale update to be dropped")
	}
	if d.LastUpdateID() != 100 {
		t.Fatalf("lastUpdateID must not change on a dropped update, got %d", d.LastUpdateID())
	}

	f := d.Formatted()
	if f.Bids[0].Qty != "1.0" {
		t.Fatalf("book must be unchanged after a dropped update, got qty %q", f.Bids[0].Qty)
	}
}

func TestApplyUpdate_UpsertAndEvict(t *testing.T) {
	d := New()
	d.ApplySnapshot(Snapshot{
		LastUpdateID: 100,
		Bids:         [][2]string{{"10.0", "1.0"}, {"9.0", "2.0"}},
		Asks:         [][2]string{{"11.0", "1.0"}},
	})

	applied := d.ApplyUpdate(Update{
		FinalUpdateID: 101,
		Bids:          [][2]string{{"10.0", "0"}, {"8.5", "3.0"}},
		Asks:          [][2]string{{"11.0", "4.0"}},
	})
	if !applied {
		t.Fatal("expected valid update to apply")
	}
	if d.LastUpdateID() != 101 {
		t.Fatalf("expected lastUpdateID to advance to 101, got %d", d.LastUpdateID())
	}

	f := d.Formatted()
	if len(f.Bids) != 2 {
		t.Fatalf("expected 2 bids after evicting 10.0 and inserting 8.5, got %+v", f.Bids)
	}
	// Descending by price: 9.0 then 8.5.
	if f.Bids[0].Price != "9.0" || f.Bids[1].Price != "8.5" {
		t.Fatalf("expected bids sorted descending [9.0, 8.5], got %+v", f.Bids)
	}
	if f.Asks[0].Qty != "4.0" {
		t.Fatalf("expected ask qty updated to 4.0, got %q", f.Asks[0].Qty)
	}
}

func TestFormatted_SortOrder(t *testing.T) {
	d := New()
	d.ApplySnapshot(Snapshot{
		LastUpdateID: 1,
		Bids:         [][2]string{{"5.0", "1"}, {"10.0", "1"}, {"7.5", "1"}},
		Asks:         [][2]string{{"12.0", "1"}, {"9.0", "1"}, {"11.0", "1"}},
	})

	f := d.Formatted()
	wantBids := []string{"10.0", "7.5", "5.0"}
	for i, p := range wantBids {
		if f.Bids[i].Price != p {
			t.Fatalf("bid[%d]: expected %s, got %s", i, p, f.Bids[i].Price)
		}
	}
	wantAsks := []string{"9.0", "11.0", "12.0"}
	for i, p := range wantAsks {
		if f.Asks[i].Price != p {
			t.Fatalf("ask[%d]: expected %s, got %s", i, p, f.Asks[i].Price)
		}
	}
}

// ApplySnapshot after updates must reset the book wholesale, even to a lower
// lastUpdateID than was previously reached (e.g. resubscribe).
func TestApplySnapshot_ResetsWholesale(t *testing.T) {
	d := New()
	d.ApplySnapshot(Snapshot{LastUpdateID: 500, Bids: [][2]string{{"1.0", "1"}}})
	d.ApplyUpdate(Update{FinalUpdateID: 501, Bids: [][2]string{{"2.0", "1"}}})

	d.ApplySnapshot(Snapshot{LastUpdateID: 10, Asks: [][2]string{{"3.0", "1"}}})
	f := d.Formatted()
	if f.LastUpdateID != 10 {
		t.Fatalf("expected lastUpdateID reset to 10, got %d", f.LastUpdateID)
	}
	if len(f.Bids) != 0 {
		t.Fatalf("expected bids cleared by fresh snapshot, got %+v", f.Bids)
	}
	if len(f.Asks) != 1 || f.Asks[0].Price != "3.0" {
		t.Fatalf("expected single ask at 3.0, got %+v", f.Asks)
	}
}
