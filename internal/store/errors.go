package store

import (
	"errors"
	"fmt"
)

// ErrReferenceData is returned by VerifyReferenceData when a required
// reference table is empty or unreachable.
var ErrReferenceData = errors.New("reference data missing")

// IntegrityError reports a claim whose business keys did not resolve in the
// reference tables. The batch containing it is rolled back in full.
type IntegrityError struct {
	ClaimNumber string
	Row         int // zero-based index within the submitted batch
	BatchSize   int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("claim %s (row %d of %d): business keys did not resolve",
		e.ClaimNumber, e.Row+1, e.BatchSize)
}
