package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxops/rxsim/internal/claim"
)

// Required input columns, addressed by header name; order is not assumed.
var requiredColumns = []string{
	"member_id",
	"pharmacy_id",
	"ndc",
	"quantity_dispensed",
	"days_supply",
	"refill_number",
	"date_of_service",
	"ingredient_cost_submitted",
	"dispensing_fee_submitted",
}

const dateLayout = "2006-01-02"

// columnMap resolves header names to field indexes. Optional columns map
// to -1 when absent.
type columnMap map[string]int

func mapColumns(header []string) (columnMap, error) {
	cols := columnMap{}
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}

// get returns the trimmed cell for name, or "" when the column is absent.
func (m columnMap) get(record []string, name string) string {
	i, ok := m[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseRow converts one data row into a Claim with status unset and
// ReceivedAt stamped. Any malformed required cell fails the whole row.
func parseRow(cols columnMap, record []string) (*claim.Claim, error) {
	c := &claim.Claim{ReceivedAt: time.Now()}

	memberID, err := parseMemberID(cols.get(record, "member_id"))
	if err != nil {
		return nil, err
	}
	c.MemberID = memberID

	c.PharmacyID = cols.get(record, "pharmacy_id")
	if c.PharmacyID == "" {
		return nil, fmt.Errorf("empty pharmacy_id")
	}
	c.NDC = cols.get(record, "ndc")
	if len(c.NDC) != claim.NDCLength {
		return nil, fmt.Errorf("ndc %q: want %d characters", c.NDC, claim.NDCLength)
	}

	if c.QuantityDispensed, err = parseDecimal(cols.get(record, "quantity_dispensed"), "quantity_dispensed"); err != nil {
		return nil, err
	}
	if c.DaysSupply, err = parseInt(cols.get(record, "days_supply"), "days_supply"); err != nil {
		return nil, err
	}
	if c.RefillNumber, err = parseInt(cols.get(record, "refill_number"), "refill_number"); err != nil {
		return nil, err
	}
	if c.RefillNumber < 0 || c.RefillNumber > claim.MaxRefillNumber {
		return nil, fmt.Errorf("refill_number %d: want 0-%d", c.RefillNumber, claim.MaxRefillNumber)
	}
	if c.DateOfService, err = time.Parse(dateLayout, cols.get(record, "date_of_service")); err != nil {
		return nil, fmt.Errorf("date_of_service: %w", err)
	}
	if c.IngredientCostSubmitted, err = parseDecimal(cols.get(record, "ingredient_cost_submitted"), "ingredient_cost_submitted"); err != nil {
		return nil, err
	}
	if c.DispensingFeeSubmitted, err = parseDecimal(cols.get(record, "dispensing_fee_submitted"), "dispensing_fee_submitted"); err != nil {
		return nil, err
	}

	// Optional columns: empty cells are null, not errors.
	c.DAWCode = cols.get(record, "daw_code")
	c.PrescriberNPI = cols.get(record, "prescriber_npi")
	c.PrescriptionNumber = cols.get(record, "prescription_number")

	c.TransactionType = claim.TransactionType(cols.get(record, "transaction_type"))
	switch c.TransactionType {
	case claim.TransactionBilling, claim.TransactionReversal, claim.TransactionRebill:
	case "":
		c.TransactionType = claim.TransactionBilling
	default:
		return nil, fmt.Errorf("unknown transaction_type %q", c.TransactionType)
	}

	if ts := cols.get(record, "received_timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("received_timestamp: %w", err)
		}
		c.ReceivedAt = t
	}

	c.ClaimNumber = cols.get(record, "claim_number")
	if c.ClaimNumber == "" {
		c.ClaimNumber = "CLM-" + uuid.NewString()
	}
	if len(c.ClaimNumber) > claim.MaxClaimNumberLength {
		return nil, fmt.Errorf("claim_number longer than %d characters", claim.MaxClaimNumberLength)
	}

	return c, nil
}

// parseMemberID accepts a bare integer or a PREFIX+digits form such as
// MBR000466742; the alphabetic prefix is stripped. Both forms may appear in
// the same file.
func parseMemberID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty member_id")
	}
	digits := s
	for i, r := range s {
		if r >= '0' && r <= '9' {
			digits = s[i:]
			break
		}
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return 0, fmt.Errorf("member_id %q: bad prefix", s)
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("member_id %q: %w", s, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("member_id %q: must be positive", s)
	}
	return id, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty %s", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func parseInt(s, field string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty %s", field)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}
