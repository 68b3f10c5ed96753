package sampling

import (
	"testing"
	"time"

	"github.com/banshee-data/noise.report/internal/db"
)

func TestThresholdGate_Admit(t *testing.T) {
	gate := ThresholdGate{Threshold: DefaultThresholdDB}
	tests := []struct {
		level float64
		want  bool
	}{
		{64.9, false},
		{65, false},
		{65.01, true},
		{90, true},
	}
	for _, tt := range tests {
		if got := gate.Admit(tt.level); got != tt.want {
			t.Errorf("Admit(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}

	if !(ThresholdGate{Threshold: 40}).Admit(40.5) {
		t.Error("custom threshold 40 should admit 40.5")
	}
}

func TestBatchBuffer(t *testing.T) {
	b := NewBatchBuffer(3)
	if b.Cap() != 3 {
		t.Fatalf("Cap() = %d", b.Cap())
	}
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 2; i++ {
		if b.Append(db.NewReading(base.Add(time.Duration(i)*time.Second), 70, time.UTC)) {
			t.Fatalf("append %d reported full", i)
		}
	}
	if !b.Append(db.NewReading(base.Add(2*time.Second), 71, time.UTC)) {
		t.Fatal("third append should report full")
	}

	got := b.Drain()
	if len(got) != 3 {
		t.Fatalf("Drain() returned %d readings", len(got))
	}
	for i, r := range got {
		if r.Timestamp != base.Unix()+int64(i) {
			t.Errorf("reading %d out of order: %d", i, r.Timestamp)
		}
	}
	if b.Len() != 0 {
		t.Errorf("Len() after drain = %d", b.Len())
	}

	// The drained slice must not alias the buffer's new backing array.
	b.Append(db.NewReading(base.Add(10*time.Second), 99, time.UTC))
	if got[0].DBLevel != 70 {
		t.Error("drained readings were overwritten by a later append")
	}

	empty := NewBatchBuffer(0).Drain()
	if empty == nil || len(empty) != 0 {
		t.Errorf("Drain() of empty buffer = %#v, want empty non-nil", empty)
	}
	if NewBatchBuffer(-1).Cap() != DefaultBatchSize {
		t.Error("non-positive capacity should use the default")
	}
}
