package directory

import (
	"testing"
	"time"
)

func TestContractActiveAt(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, -6, 0)
	end := now.AddDate(0, 6, 0)
	past := now.AddDate(-2, 0, 0)

	tests := []struct {
		name     string
		provider InsuranceProvider
		want     bool
	}{
		{"no bounds", InsuranceProvider{}, true},
		{"inside window", InsuranceProvider{ContractStart: &start, ContractEnd: &end}, true},
		{"before start", InsuranceProvider{ContractStart: &end}, false},
		{"after end", InsuranceProvider{ContractEnd: &past}, false},
		{"open ended", InsuranceProvider{ContractStart: &start}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.provider.ContractActiveAt(now); got != tt.want {
				t.Errorf("ContractActiveAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoverageFor(t *testing.T) {
	p := InsuranceProvider{CoveragePercentage: 80}
	if got := p.CoverageFor(100); got != 80 {
		t.Errorf("expected 80, got %f", got)
	}

	cap := 50.0
	capped := InsuranceProvider{CoveragePercentage: 80, MaxCoverage: &cap}
	if got := capped.CoverageFor(100); got != 50 {
		t.Errorf("expected coverage capped at 50, got %f", got)
	}
}
