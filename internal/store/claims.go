package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rxops/rxsim/internal/claim"
)

// insertClaimSQL resolves the member, pharmacy and drug surrogate keys in a
// single lookup-INSERT. When any business key is unknown, the SELECT yields
// no row and the statement reports zero rows affected.
const insertClaimSQL = `
	INSERT INTO claims (
		claim_number, transaction_type, member_id, pharmacy_id, drug_id,
		ndc, prescription_number, quantity_dispensed, days_supply,
		refill_number, date_of_service, daw_code, prescriber_npi,
		ingredient_cost_submitted, dispensing_fee_submitted,
		status, response_code, response_message,
		patient_pay_amount, plan_pay_amount, tax_amount,
		deductible_applied, oop_applied,
		processing_time_ms, received_at, processed_at
	)
	SELECT ?, ?, m.member_id, p.pharmacy_id, d.drug_id,
		?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
	FROM members m
	JOIN pharmacies p ON p.npi = ?
	JOIN drugs d ON d.ndc = ?
	WHERE m.member_number = ?`

// InsertClaims persists one adjudicated batch in a single transaction.
// All-or-nothing: the first row whose keys fail to resolve (or any driver
// error) rolls the whole batch back. Returns the number of rows inserted,
// which is len(batch) on success and 0 on any failure.
func (s *Store) InsertClaims(ctx context.Context, batch []*claim.Claim) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin claim batch: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertClaimSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare claim insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var bytes int64
	for i, c := range batch {
		res, err := stmt.ExecContext(ctx, insertArgs(c)...)
		if err != nil {
			return 0, fmt.Errorf("insert claim %s: %w", c.ClaimNumber, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert claim %s: rows affected: %w", c.ClaimNumber, err)
		}
		if affected == 0 {
			return 0, &IntegrityError{ClaimNumber: c.ClaimNumber, Row: i, BatchSize: len(batch)}
		}
		bytes += c.ApproxBytes()
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit claim batch of %d (first claim %s): %w",
			len(batch), batch[0].ClaimNumber, err)
	}
	committed = true

	s.rec.Record("claim", "insert_batch", time.Since(start), len(batch), bytes)
	s.logProgress(len(batch))
	return len(batch), nil
}

// insertArgs flattens a claim into the statement's placeholder order.
func insertArgs(c *claim.Claim) []any {
	return []any{
		c.ClaimNumber,
		string(c.TransactionType),
		c.NDC,
		nullString(c.PrescriptionNumber),
		c.QuantityDispensed.String(),
		c.DaysSupply,
		c.RefillNumber,
		c.DateOfService.Format("2006-01-02"),
		nullString(c.DAWCode),
		nullString(c.PrescriberNPI),
		c.IngredientCostSubmitted.String(),
		c.DispensingFeeSubmitted.String(),
		string(c.Status),
		c.ResponseCode,
		c.ResponseMessage,
		c.PatientPay.StringFixed(2),
		c.PlanPay.StringFixed(2),
		c.Tax.StringFixed(2),
		c.DeductibleApplied, // driver.Valuer: NULL when not set
		c.OOPApplied,
		c.ProcessingMS,
		c.ReceivedAt,
		c.ProcessedAt,
		c.PharmacyID,
		c.NDC,
		c.MemberID,
	}
}

// logProgress emits a line each time the run-total inserted count crosses a
// progressInterval boundary.
func (s *Store) logProgress(n int) {
	before := s.inserted
	s.inserted += int64(n)
	if s.inserted/progressInterval > before/progressInterval {
		fmt.Fprintf(s.out, "Inserted %d claims\n", s.inserted)
	}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
