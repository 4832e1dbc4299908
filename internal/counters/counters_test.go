package counters

import "testing"

func TestAlertNeededCadenceFactor4(t *testing.T) {
	sequence := []uint64{1, 2, 3, 4, 15, 16, 17}
	wantAlert := map[uint64]bool{1: false, 2: false, 3: false, 4: true, 15: false, 16: true, 17: false}

	for _, n := range sequence {
		if got := AlertNeeded(n, 4); got != wantAlert[n] {
			t.Errorf("AlertNeeded(%d, 4) = %v, want %v", n, got, wantAlert[n])
		}
	}
}

func TestAlertNeededCadenceGeneric(t *testing.T) {
	for _, factor := range []int{2, 3, 5} {
		alerts := 0
		for n := uint64(1); n <= 200; n++ {
			if AlertNeeded(n, factor) {
				alerts++
				// Every alert must land exactly on a power of factor.
				p := uint64(factor)
				found := false
				for p <= 200 {
					if p == n {
						found = true
						break
					}
					p *= uint64(factor)
				}
				if !found {
					t.Errorf("alert at %d is not a power of %d", n, factor)
				}
			}
		}
		if alerts == 0 {
			t.Errorf("expected at least one alert for factor %d", factor)
		}
	}
}

func TestAlertNeededRejectsFactorBelow2(t *testing.T) {
	if AlertNeeded(4, 1) {
		t.Error("expected no alert for factor < 2")
	}
	if AlertNeeded(4, 0) {
		t.Error("expected no alert for factor 0")
	}
}

func TestObserveMonotonicallyIncreases(t *testing.T) {
	cat := newCategory()

	var last uint64
	for i := 0; i < 10; i++ {
		count, _ := cat.Observe("key-a")
		if count <= last && i > 0 {
			t.Errorf("count did not increase: %d -> %d", last, count)
		}
		last = count
	}
	if got := cat.Count("key-a"); got != 10 {
		t.Errorf("expected final count 10, got %d", got)
	}
}

func TestObserveDidInsertOnlyOnFirstSighting(t *testing.T) {
	cat := newCategory()

	_, firstInsert := cat.Observe("cid-1")
	if !firstInsert {
		t.Error("expected didInsert=true on first sighting")
	}
	_, secondInsert := cat.Observe("cid-1")
	if secondInsert {
		t.Error("expected didInsert=false on repeat sighting")
	}
}

func TestCountersImageVideoRecordSeen(t *testing.T) {
	c := New(Factors{Image: 4, Video: 4, Record: 4, Link: 4})

	var lastAlert bool
	for i := 0; i < 4; i++ {
		_, lastAlert = c.ImageSeen("cid-shared")
	}
	if !lastAlert {
		t.Error("expected alert on 4th image sighting with factor 4")
	}

	count, alert := c.VideoSeen("vid-1")
	if count != 1 || alert {
		t.Errorf("expected first video sighting count=1 alert=false, got count=%d alert=%v", count, alert)
	}

	count, _ = c.RecordSeen("at://did:plc:x/app.bsky.feed.post/1")
	if count != 1 {
		t.Errorf("expected first record sighting count=1, got %d", count)
	}
}

func TestLinkSeenReportsDidInsert(t *testing.T) {
	c := New(Factors{Image: 4, Video: 4, Record: 4, Link: 4})

	_, _, didInsert := c.LinkSeen("https://example.com/a")
	if !didInsert {
		t.Error("expected didInsert=true on first link sighting")
	}
	_, _, didInsert = c.LinkSeen("https://example.com/a")
	if didInsert {
		t.Error("expected didInsert=false on repeat link sighting")
	}
}

func TestCategoryLen(t *testing.T) {
	cat := newCategory()
	cat.Observe("a")
	cat.Observe("b")
	cat.Observe("a")
	if got := cat.Len(); got != 2 {
		t.Errorf("expected 2 distinct keys, got %d", got)
	}
}
