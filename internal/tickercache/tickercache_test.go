package tickercache

import "testing"

func TestUpsert_StableIndexAcrossUpdates(t *testing.T) {
	c := New()

	i1, inserted := c.Upsert(Ticker{Symbol: "BTCUSDT", LastPrice: "50000"})
	if !inserted || i1 != 0 {
		t.Fatalf("expected first upsert inserted at index 0, got index=%d inserted=%v", i1, inserted)
	}

	i2, inserted := c.Upsert(Ticker{Symbol: "ETHUSDT", LastPrice: "3000"})
	if !inserted || i2 != 1 {
		t.Fatalf("expected second upsert inserted at index 1, got index=%d inserted=%v", i2, inserted)
	}

	i1Again, inserted := c.Upsert(Ticker{Symbol: "BTCUSDT", LastPrice: "50500"})
	if inserted {
		t.Fatal("expected update to an existing symbol, not an insert")
	}
	if i1Again != i1 {
		t.Fatalf("expected BTCUSDT's index to remain %d, got %d", i1, i1Again)
	}

	tk, ok := c.Get("BTCUSDT")
	if !ok || tk.LastPrice != "50500" {
		t.Fatalf("expected updated price 50500, got %+v (ok=%v)", tk, ok)
	}
}

func TestSnapshot_PreservesPositionalOrder(t *testing.T) {
	c := New()
	c.Upsert(Ticker{Symbol: "BTCUSDT"})
	c.Upsert(Ticker{Symbol: "ETHUSDT"})
	c.Upsert(Ticker{Symbol: "BNBUSDT"})
	c.Upsert(Ticker{Symbol: "ETHUSDT", LastPrice: "updated"})

	snap := c.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	want := []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"}
	for i, sym := range want {
		if snap[i].Symbol != sym {
			t.Fatalf("entry %d: expected %s, got %s", i, sym, snap[i].Symbol)
		}
	}
	if snap[1].LastPrice != "updated" {
		t.Fatalf("expected ETHUSDT's price updated in place, got %q", snap[1].LastPrice)
	}
}

func TestIndexOf_UnknownSymbol(t *testing.T) {
	c := New()
	c.Upsert(Ticker{Symbol: "BTCUSDT"})
	if idx := c.IndexOf("DOGEUSDT"); idx != -1 {
		t.Fatalf("expected -1 for unknown symbol, got %d", idx)
	}
}
