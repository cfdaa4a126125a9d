package mqtt

import (
	"sync"
	"testing"
	"time"
)

func TestDailyTokens_Accumulates(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	dt.OnTokens(100, 200)
	dt.OnTokens(50, 75)

	input, output, requests := dt.Snapshot()
	if input != 150 || output != 275 || requests != 2 {
		t.Errorf("Snapshot = (%d, %d, %d), want (150, 275, 2)", input, output, requests)
	}
}

func TestDailyTokens_Concurrent(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dt.OnTokens(10, 20)
		}()
	}
	wg.Wait()

	input, output, requests := dt.Snapshot()
	if input != 1000 || output != 2000 || requests != 100 {
		t.Errorf("Snapshot = (%d, %d, %d), want (1000, 2000, 100)", input, output, requests)
	}
}

func TestDailyTokens_RollsOverAtMidnight(t *testing.T) {
	clock := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	dt := NewDailyTokens(time.UTC)
	dt.now = func() time.Time { return clock }
	dt.day = dt.today()

	dt.OnTokens(500, 600)
	if in, _, _ := dt.Snapshot(); in != 500 {
		t.Fatalf("input before midnight = %d", in)
	}

	clock = clock.Add(2 * time.Minute)
	input, output, requests := dt.Snapshot()
	if input != 0 || output != 0 || requests != 0 {
		t.Errorf("after midnight = (%d, %d, %d), want zeros", input, output, requests)
	}
}

func TestDailyTokens_SameDayNextYear(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dt := NewDailyTokens(time.UTC)
	dt.now = func() time.Time { return clock }
	dt.day = dt.today()
	dt.OnTokens(1, 1)

	clock = clock.AddDate(1, 0, 0)
	if in, _, _ := dt.Snapshot(); in != 0 {
		t.Errorf("input a year later = %d, want 0", in)
	}
}

func TestDailyTokens_NilLocation(t *testing.T) {
	dt := NewDailyTokens(nil)
	if dt.loc != time.Local {
		t.Error("nil location should default to time.Local")
	}
	dt.OnTokens(1, 1)
	if in, _, _ := dt.Snapshot(); in != 1 {
		t.Errorf("input = %d, want 1", in)
	}
}
