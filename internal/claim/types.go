// Package claim defines the core data structures for the rxsim adjudication
// pipeline.
//
// A Claim is parsed from the input corpus by internal/ingest, adjudicated
// exactly once by internal/engine, persisted by internal/store, and then
// discarded. The adjudication outcome is applied through Apply so the engine
// itself stays a pure request -> outcome function.
package claim

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the final adjudication disposition of a claim.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// TransactionType is the NCPDP transaction code carried on a claim.
// Only B1 billing is exercised end-to-end; B2/B3 pass through unchanged.
type TransactionType string

const (
	TransactionBilling  TransactionType = "B1"
	TransactionReversal TransactionType = "B2"
	TransactionRebill   TransactionType = "B3"
)

// NDCLength is the required length of a National Drug Code.
const NDCLength = 11

// MaxClaimNumberLength bounds the claim_number column.
const MaxClaimNumberLength = 50

// MaxRefillNumber is the highest refill ordinal a claim may carry; 0 is the
// original fill.
const MaxRefillNumber = 11

// Claim represents one pharmacy claim flowing through the pipeline.
//
// The request fields are populated at ingest; the outcome fields are zero
// until Apply is called with the engine's Outcome. Monetary amounts carry
// two fractional digits, quantities up to three.
type Claim struct {
	ClaimNumber     string
	TransactionType TransactionType

	// Request (business keys and submitted values)
	MemberID                int64
	PharmacyID              string
	NDC                     string
	PrescriptionNumber      string
	QuantityDispensed       decimal.Decimal
	DaysSupply              int
	RefillNumber            int
	DateOfService           time.Time
	DAWCode                 string
	PrescriberNPI           string
	IngredientCostSubmitted decimal.Decimal
	DispensingFeeSubmitted  decimal.Decimal

	// Outcome
	ReceivedAt        time.Time
	ProcessedAt       time.Time
	Status            Status
	ResponseCode      string
	ResponseMessage   string
	PatientPay        decimal.Decimal
	PlanPay           decimal.Decimal
	Tax               decimal.Decimal
	DeductibleApplied decimal.NullDecimal
	OOPApplied        decimal.NullDecimal
	ProcessingMS      int64

	// Tier is the formulary tier assigned during pricing. Zero means no
	// tier was assigned (every rejected claim); it is never persisted.
	Tier int
}

// Outcome is the engine's verdict for a single claim. Rejected outcomes carry
// zero pay amounts; approved outcomes satisfy
// PatientPay + PlanPay + Tax == ingredient cost + dispensing fee.
type Outcome struct {
	Status          Status
	ResponseCode    string
	ResponseMessage string
	PatientPay      decimal.Decimal
	PlanPay         decimal.Decimal
	Tax             decimal.Decimal
	Tier            int
	Elapsed         time.Duration
}

// Approved reports whether the outcome is an approval.
func (o Outcome) Approved() bool { return o.Status == StatusApproved }

// TotalCost is the submitted ingredient cost plus dispensing fee.
func (c *Claim) TotalCost() decimal.Decimal {
	return c.IngredientCostSubmitted.Add(c.DispensingFeeSubmitted)
}

// ErrMissingField is wrapped by ValidateRequest for every absent or
// malformed required request field.
var ErrMissingField = errors.New("missing or invalid request field")

// ValidateRequest checks the required request fields (engine step 1).
// Days-supply range violations are not checked here: they reject with the
// plan-limits code, not M0.
func (c *Claim) ValidateRequest() error {
	switch {
	case c.MemberID <= 0:
		return fmt.Errorf("%w: member_id", ErrMissingField)
	case c.PharmacyID == "":
		return fmt.Errorf("%w: pharmacy_id", ErrMissingField)
	case len(c.NDC) != NDCLength:
		return fmt.Errorf("%w: ndc", ErrMissingField)
	case !c.QuantityDispensed.IsPositive():
		return fmt.Errorf("%w: quantity_dispensed", ErrMissingField)
	case c.DateOfService.IsZero():
		return fmt.Errorf("%w: date_of_service", ErrMissingField)
	}
	return nil
}

// Apply stamps the adjudication outcome onto the claim. It is called exactly
// once per claim, by the coordinator, immediately after Adjudicate returns.
func (c *Claim) Apply(o Outcome, processedAt time.Time) {
	c.Status = o.Status
	c.ResponseCode = o.ResponseCode
	c.ResponseMessage = o.ResponseMessage
	c.PatientPay = o.PatientPay
	c.PlanPay = o.PlanPay
	c.Tax = o.Tax
	c.Tier = o.Tier
	c.ProcessedAt = processedAt
	c.ProcessingMS = o.Elapsed.Milliseconds()
	if c.ProcessingMS < 0 {
		c.ProcessingMS = 0
	}
}

// ApproxBytes estimates the wire size of the persisted row, used for the
// metrics recorder's byte-rate columns.
func (c *Claim) ApproxBytes() int64 {
	n := len(c.ClaimNumber) + len(c.PharmacyID) + len(c.NDC) +
		len(c.PrescriptionNumber) + len(c.DAWCode) + len(c.PrescriberNPI) +
		len(c.ResponseCode) + len(c.ResponseMessage) + len(c.TransactionType) +
		len(c.Status)
	// Numeric and timestamp columns at 8 bytes each.
	n += 13 * 8
	return int64(n)
}
