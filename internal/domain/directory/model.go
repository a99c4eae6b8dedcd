package directory

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the minimal identity read model the allocation and billing
// services consume. Full patient management lives outside this service.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// InsuranceProvider carries the coverage terms used when applying
// insurance to a bill.
type InsuranceProvider struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	Code               string     `db:"code" json:"code"`
	CoveragePercentage float64    `db:"coverage_percentage" json:"coverage_percentage"`
	MaxCoverage        *float64   `db:"max_coverage" json:"max_coverage,omitempty"`
	ContractStart      *time.Time `db:"contract_start" json:"contract_start,omitempty"`
	ContractEnd        *time.Time `db:"contract_end" json:"contract_end,omitempty"`
	ContactEmail       *string    `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone       *string    `db:"contact_phone" json:"contact_phone,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// ContractActiveAt reports whether the provider's contract covers the
// given instant. Open-ended bounds are treated as unbounded.
func (p *InsuranceProvider) ContractActiveAt(t time.Time) bool {
	if p.ContractStart != nil && t.Before(*p.ContractStart) {
		return false
	}
	if p.ContractEnd != nil && t.After(*p.ContractEnd) {
		return false
	}
	return true
}

// CoverageFor computes the covered portion of an amount, capped at the
// provider's maximum when one is set.
func (p *InsuranceProvider) CoverageFor(amount float64) float64 {
	covered := amount * p.CoveragePercentage / 100
	if p.MaxCoverage != nil && covered > *p.MaxCoverage {
		covered = *p.MaxCoverage
	}
	return covered
}
