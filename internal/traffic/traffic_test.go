package traffic

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// TestRequestCount_Empty verifies that RequestCount returns 0 when no
// requests have been recorded within the time window.
func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(1 * time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordSuccess_AndRequestCount verifies that RecordSuccess increments RequestCount.
func TestRecordSuccess_AndRequestCount(t *testing.T) {
	Reset()
	defer Reset()
	RecordSuccess()
	RecordSuccess()
	if n := RequestCount(1 * time.Minute); n != 2 {
		t.Errorf("RequestCount() = %d, want 2", n)
	}
}

// TestRecordDenied_AndCounts verifies that RecordDenied increments both
// DenialCount and RequestCount.
func TestRecordDenied_AndCounts(t *testing.T) {
	Reset()
	defer Reset()
	RecordDenied()
	RecordDenied()
	if n := DenialCount(1 * time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := RequestCount(1 * time.Minute); n != 2 {
		t.Errorf("RequestCount() = %d, want 2", n)
	}
}

// TestErrorRate_DeniedExcluded verifies that denials do not count toward the error rate.
func TestErrorRate_DeniedExcluded(t *testing.T) {
	Reset()
	defer Reset()
	RecordSuccess()
	RecordError()
	RecordDenied()
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 1 || total != 2 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 2)", errors, total)
	}
}

// TestTracker_WindowSlides verifies outcomes leave the window as the clock advances.
func TestTracker_WindowSlides(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock)

	tr.RecordError()
	clock.Advance(30 * time.Second)
	tr.RecordSuccess()

	if errors, total := tr.ErrorRate(time.Minute); errors != 1 || total != 2 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 2)", errors, total)
	}

	clock.Advance(45 * time.Second)
	if errors, total := tr.ErrorRate(time.Minute); errors != 0 || total != 1 {
		t.Errorf("ErrorRate() after slide = (%d, %d), want (0, 1)", errors, total)
	}
}

// TestTracker_PrunesOldOutcomes verifies entries older than maxAge are dropped on record.
func TestTracker_PrunesOldOutcomes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock)

	for i := 0; i < 10; i++ {
		tr.RecordSuccess()
	}
	clock.Advance(maxAge + time.Second)
	tr.RecordSuccess()

	tr.mu.Lock()
	n := len(tr.successTimes)
	tr.mu.Unlock()
	if n != 1 {
		t.Errorf("retained %d outcomes, want 1", n)
	}
	if got := tr.RequestCount(24 * time.Hour); got != 1 {
		t.Errorf("RequestCount() = %d, want 1", got)
	}
}
