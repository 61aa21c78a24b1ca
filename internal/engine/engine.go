// Package engine implements the eight-step NCPDP-style adjudication decision
// pipeline.
//
// Adjudicate is pure with respect to persistent state: given the same claim
// and the same random draws it always produces the same outcome. Clinical
// checks (eligibility, formulary, DUR, ...) are probabilistic stand-ins; the
// per-step rates are tuned so that, conditional on rejection, the realized
// reason mix matches the production reference distribution. See DESIGN.md
// for the derivation of the rate table.
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxops/rxsim/internal/claim"
)

// Maximum quantity and days supply accepted before a hard plan-limits reject.
const (
	maxQuantity   = 360
	maxDaysSupply = 100
)

// rejection carries the NCPDP response code and message for one check.
type rejection struct {
	code    string
	message string
}

var (
	rejectInvalidRequest = rejection{"M0", "Missing/Invalid Request Data"}
	rejectNotCovered     = rejection{"85", "Patient Not Covered"}
	rejectOutOfNetwork   = rejection{"75", "Pharmacy Not In Network"}
	rejectNonFormulary   = rejection{"70", "Product Not Covered"}
	rejectRefillTooSoon  = rejection{"79", "Refill Too Soon"}
	rejectDUR            = rejection{"88", "DUR Reject"}
	rejectPriorAuth      = rejection{"75", "Prior Authorization Required"}
	rejectPlanLimits     = rejection{"76", "Plan Limitations Exceeded"}
)

// check is one Bernoulli screening step: fail with probability rate,
// conditional on the claim having survived every earlier step.
type check struct {
	name  string
	rate  float64
	rejection
	delayMin, delayMax time.Duration
}

// The conditional rates below realize an 86.6% approval rate and the target
// conditional rejection mix (prior auth 30%, non-formulary 25%, refill too
// soon 15%, plan limits 15%, not covered 10%, DUR 5%) within tolerance.
var screeningChecks = []check{
	{"eligibility", 0.013000, rejectNotCovered, 100 * time.Millisecond, 200 * time.Millisecond},
	{"network", 0.004053, rejectOutOfNetwork, 50 * time.Millisecond, 100 * time.Millisecond},
	{"formulary", 0.033061, rejectNonFormulary, 50 * time.Millisecond, 150 * time.Millisecond},
	{"refill", 0.020514, rejectRefillTooSoon, 50 * time.Millisecond, 150 * time.Millisecond},
	{"dur", 0.006981, rejectDUR, 200 * time.Millisecond, 500 * time.Millisecond},
	{"prior_auth", 0.042183, rejectPriorAuth, 100 * time.Millisecond, 200 * time.Millisecond},
}

// planLimitsRate is the residual Bernoulli reject rate for claims whose
// quantity and days supply are inside the hard limits.
const planLimitsRate = 0.022020

// Tier cost sharing: fixed copays for tiers 1-3, coinsurance for 4-5.
var (
	tierCumulative = []float64{0.60, 0.80, 0.90, 0.97, 1.00}
	tierCopays     = map[int]decimal.Decimal{
		1: decimal.NewFromInt(10),
		2: decimal.NewFromInt(25),
		3: decimal.NewFromInt(50),
		4: decimal.NewFromInt(100),
		5: decimal.NewFromInt(150),
	}
	coinsuranceRate = decimal.RequireFromString("0.30")
	zero            = decimal.Zero
)

// coinsuranceTier is the lowest tier priced by coinsurance instead of copay.
const coinsuranceTier = 4

// Engine runs the decision pipeline. It holds no per-claim state and never
// touches the store; the only mutable dependency is the injected random
// source, so a shared Engine must not be used from multiple goroutines
// unless its Source is safe for that.
type Engine struct {
	src        Source
	stepDelays bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStepDelays enables the per-step latency simulation. Off by default:
// high-speedup runs would otherwise be dominated by sleeps.
func WithStepDelays(enabled bool) Option {
	return func(e *Engine) { e.stepDelays = enabled }
}

// New creates an Engine drawing from src.
func New(src Source, opts ...Option) *Engine {
	e := &Engine{src: src}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Adjudicate runs the claim through every step and returns a fully populated
// outcome. It cannot fail: every claim produces either an approval or a
// rejection. Wall-clock elapsed time is captured on the outcome.
func (e *Engine) Adjudicate(c *claim.Claim) claim.Outcome {
	start := time.Now()

	if err := c.ValidateRequest(); err != nil {
		return e.reject(rejectInvalidRequest, start)
	}
	e.pause(50*time.Millisecond, 100*time.Millisecond)

	for _, chk := range screeningChecks {
		e.pause(chk.delayMin, chk.delayMax)
		if e.src.Float64() < chk.rate {
			return e.reject(chk.rejection, start)
		}
	}

	// Plan limits: hard quantity/days-supply edges reject without a draw.
	if c.QuantityDispensed.GreaterThan(decimal.NewFromInt(maxQuantity)) ||
		c.DaysSupply <= 0 || c.DaysSupply > maxDaysSupply {
		return e.reject(rejectPlanLimits, start)
	}
	if e.src.Float64() < planLimitsRate {
		return e.reject(rejectPlanLimits, start)
	}

	e.pause(100*time.Millisecond, 200*time.Millisecond)
	return e.price(c, start)
}

// price assigns a tier and computes the cost split (step 8).
func (e *Engine) price(c *claim.Claim, start time.Time) claim.Outcome {
	tier := e.drawTier()
	total := c.TotalCost()

	var patient decimal.Decimal
	if tier >= coinsuranceTier {
		patient = total.Mul(coinsuranceRate).Round(2)
	} else {
		// Lesser-of: the copay never exceeds the claim's total cost, which
		// keeps patient + plan + tax == total for cheap fills.
		patient = tierCopays[tier]
		if patient.GreaterThan(total) {
			patient = total
		}
	}
	plan := total.Sub(patient)

	return claim.Outcome{
		Status:          claim.StatusApproved,
		ResponseCode:    "0",
		ResponseMessage: fmt.Sprintf("Approved - Tier %d", tier),
		PatientPay:      patient,
		PlanPay:         plan,
		Tax:             zero,
		Tier:            tier,
		Elapsed:         time.Since(start),
	}
}

// drawTier samples the formulary tier distribution (60/20/10/7/3).
func (e *Engine) drawTier() int {
	f := e.src.Float64()
	for i, cum := range tierCumulative {
		if f < cum {
			return i + 1
		}
	}
	return len(tierCumulative)
}

func (e *Engine) reject(r rejection, start time.Time) claim.Outcome {
	return claim.Outcome{
		Status:          claim.StatusRejected,
		ResponseCode:    r.code,
		ResponseMessage: r.message,
		PatientPay:      zero,
		PlanPay:         zero,
		Tax:             zero,
		Elapsed:         time.Since(start),
	}
}

// pause sleeps a uniform duration in [min, max] when step delays are on.
func (e *Engine) pause(min, max time.Duration) {
	if !e.stepDelays {
		return
	}
	span := float64(max - min)
	time.Sleep(min + time.Duration(e.src.Float64()*span))
}
