package utils

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 Bytes"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakePool struct{}

func (fakePool) GetWorkerCount() int   { return 4 }
func (fakePool) ActiveJobCount() int   { return 1 }
func (fakePool) GetQueueCapacity() int { return 8 }

func TestGetSystemStats(t *testing.T) {
	stats := GetSystemStats(fakePool{})
	if stats.NumCPU <= 0 || stats.GoRoutines <= 0 {
		t.Errorf("runtime stats missing: %+v", stats)
	}
	if stats.WorkerCount != 4 || stats.ActiveJobs != 1 || stats.QueueCapacity != 8 {
		t.Errorf("pool stats = %d/%d/%d", stats.WorkerCount, stats.ActiveJobs, stats.QueueCapacity)
	}
	if GetSystemStats(nil).WorkerCount != 0 {
		t.Error("nil pool should leave worker stats empty")
	}
}
