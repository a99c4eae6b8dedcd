package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a patient or provider id does not resolve.
var ErrNotFound = errors.New("not found")

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type ProviderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*InsuranceProvider, error)
	List(ctx context.Context, limit, offset int) ([]*InsuranceProvider, int, error)
}
