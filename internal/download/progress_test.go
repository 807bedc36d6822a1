package download

import "testing"

// TestProgressAggregatorTotalBytesPathMonotonic exercises the total_bytes>0
// branch of the percent formula (spec §4.5 step 6): downloaded bytes only
// grow, so percent must already be non-decreasing even before the clamp.
func TestProgressAggregatorTotalBytesPathMonotonic(t *testing.T) {
	var events []ProgressEvent
	agg := NewProgressAggregator(func(e ProgressEvent) { events = append(events, e) }, 1000, 0)

	agg.Update("model.bin", 400)
	agg.Update("model.bin", 600)

	if len(events) != 2 {
		t.Fatalf("events = %+v, want 2", events)
	}
	if events[0].Percent != 40 {
		t.Errorf("first percent = %d, want 40", events[0].Percent)
	}
	if events[1].Percent != 100 {
		t.Errorf("second percent = %d, want 100", events[1].Percent)
	}
}

// TestProgressAggregatorClampsRegressionAcrossFiles exercises the
// total_files>0 branch (spec §4.5 step 6), where switching which file is
// actively reporting can make the raw computed percent dip below a value
// already emitted; the aggregator must suppress that regression (property
// P3) and must not re-emit an unchanged percent.
func TestProgressAggregatorClampsRegressionAcrossFiles(t *testing.T) {
	var events []ProgressEvent
	agg := NewProgressAggregator(func(e ProgressEvent) { events = append(events, e) }, 0, 2)

	agg.RegisterFile("a.bin", 100)
	agg.RegisterFile("b.bin", 100)

	agg.Update("a.bin", 80) // completed=0, a at 0.8 -> (0+0.8)*100/2 = 40
	agg.Update("b.bin", 10) // completed=0, b at 0.1 -> (0+0.1)*100/2 = 5, clamped to 40, no re-emit

	agg.End("a.bin") // credits remainder, then recomputes against a -> clamps to 100 at most
	agg.End("b.bin") // already at or above 100, deduped

	if len(events) != 2 {
		t.Fatalf("events = %+v, want exactly 2 emitted (dip and duplicate suppressed)", events)
	}
	if events[0].Percent != 40 {
		t.Errorf("first percent = %d, want 40", events[0].Percent)
	}
	for i, e := range events {
		if e.Percent > 100 {
			t.Errorf("event[%d].Percent = %d, exceeds 100", i, e.Percent)
		}
	}
	for i := 1; i < len(events); i++ {
		if events[i].Percent < events[i-1].Percent {
			t.Errorf("percent regressed at index %d: %d < %d", i, events[i].Percent, events[i-1].Percent)
		}
	}
}

func TestProgressAggregatorIgnoresEmptyFilename(t *testing.T) {
	var events []ProgressEvent
	agg := NewProgressAggregator(func(e ProgressEvent) { events = append(events, e) }, 1000, 0)
	agg.Update("", 500)
	agg.End("")
	if len(events) != 0 {
		t.Errorf("expected no events for empty filename, got %+v", events)
	}
}

func TestProgressAggregatorIgnoresNonPositiveDelta(t *testing.T) {
	var events []ProgressEvent
	agg := NewProgressAggregator(func(e ProgressEvent) { events = append(events, e) }, 1000, 0)
	agg.Update("x.bin", 0)
	agg.Update("x.bin", -5)
	if len(events) != 0 {
		t.Errorf("expected no events for non-positive delta, got %+v", events)
	}
}
