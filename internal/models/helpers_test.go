package models

import "testing"

func TestTruncateMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "boom", 10, "boom"},
		{"exact", "boom", 4, "boom"},
		{"cut", "connection refused", 10, "connection"},
		{"zero", "boom", 0, ""},
		{"rune boundary", "prix €29", 7, "prix "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateMessage(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("TruncateMessage(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestParseBillingCycle(t *testing.T) {
	tests := []struct {
		in   string
		want BillingCycle
	}{
		{"monthly", BillingMonthly},
		{"annually", BillingAnnually},
		{"ANNUALLY", BillingAnnually},
		{"one_time", BillingOneTime},
		{"", BillingMonthly},
		{"weekly", BillingMonthly},
	}

	for _, tt := range tests {
		if got := ParseBillingCycle(tt.in); got != tt.want {
			t.Errorf("ParseBillingCycle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStageProgress(t *testing.T) {
	if got := StageQueued.Progress(); got != 0 {
		t.Errorf("queued progress = %v, want 0", got)
	}
	if got := StageDone.Progress(); got != 1 {
		t.Errorf("done progress = %v, want 1", got)
	}
	if got := SessionStage("unknown").Progress(); got != 0 {
		t.Errorf("unknown progress = %v, want 0", got)
	}
}
