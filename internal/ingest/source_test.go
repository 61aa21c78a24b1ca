package ingest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxops/rxsim/internal/claim"
)

const header = "claim_number,member_id,pharmacy_id,ndc,quantity_dispensed,days_supply,refill_number,date_of_service,ingredient_cost_submitted,dispensing_fee_submitted,daw_code,prescriber_npi,transaction_type\n"

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

// newTestSource silences progress output and captures warnings.
func newTestSource(t *testing.T, dir string) (*Source, *bytes.Buffer) {
	t.Helper()
	s := New(dir, "pharmacy_claims_simulation_*.csv")
	warnings := &bytes.Buffer{}
	s.out = &bytes.Buffer{}
	s.err = warnings
	return s, warnings
}

func TestLoadAllParsesFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv", header+
		"RX0001,MBR000000001,1457812345,12345678901,30,30,0,2024-06-15,45.99,2.50,1,1234567890,B1\n")

	s, _ := newTestSource(t, dir)
	claims, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, claims, 1)

	c := claims[0]
	assert.Equal(t, "RX0001", c.ClaimNumber)
	assert.Equal(t, int64(1), c.MemberID)
	assert.Equal(t, "1457812345", c.PharmacyID)
	assert.Equal(t, "12345678901", c.NDC)
	assert.Equal(t, "30", c.QuantityDispensed.String())
	assert.Equal(t, 30, c.DaysSupply)
	assert.Equal(t, 0, c.RefillNumber)
	assert.Equal(t, "2024-06-15", c.DateOfService.Format("2006-01-02"))
	assert.Equal(t, "45.99", c.IngredientCostSubmitted.StringFixed(2))
	assert.Equal(t, "2.50", c.DispensingFeeSubmitted.StringFixed(2))
	assert.Equal(t, "1", c.DAWCode)
	assert.Equal(t, claim.TransactionBilling, c.TransactionType)
	assert.Empty(t, c.Status, "status must be unset at ingest")
	assert.False(t, c.ReceivedAt.IsZero())
}

func TestColumnOrderIsIrrelevant(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv",
		"ndc,member_id,dispensing_fee_submitted,pharmacy_id,quantity_dispensed,days_supply,refill_number,date_of_service,ingredient_cost_submitted\n"+
			"12345678901,42,2.50,PH1,30,30,0,2024-06-15,45.99\n")

	s, _ := newTestSource(t, dir)
	claims, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, int64(42), claims[0].MemberID)
	assert.Equal(t, "12345678901", claims[0].NDC)
}

func TestMemberIDForms(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"466742", 466742, true},
		{"MBR000466742", 466742, true},
		{"mbr123", 123, true},
		{"MBR", 0, false},
		{"", 0, false},
		{"12-34", 0, false},
		{"0", 0, false},
	}
	for _, tt := range tests {
		got, err := parseMemberID(tt.in)
		if tt.wantOK {
			require.NoError(t, err, "member_id %q", tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, "member_id %q", tt.in)
		}
	}
}

func TestRowMissingRequiredFieldIsSkipped(t *testing.T) {
	dir := t.TempDir()
	// Second row has no ndc: skipped with a warning, first and third load.
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv", header+
		"RX1,1,PH1,12345678901,30,30,0,2024-06-15,45.99,2.50,,,\n"+
		"RX2,2,PH1,,30,30,0,2024-06-15,45.99,2.50,,,\n"+
		"RX3,3,PH1,12345678901,30,30,0,2024-06-15,45.99,2.50,,,\n")

	s, warnings := newTestSource(t, dir)
	claims, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, claims, 2)
	assert.Equal(t, int64(1), s.Skipped())
	assert.Contains(t, warnings.String(), "line 3")
	assert.Contains(t, warnings.String(), "ndc")
}

func TestRefillNumberOutOfRangeIsSkipped(t *testing.T) {
	dir := t.TempDir()
	// Refill ordinals run 0-11; 12 and -1 are row errors, 11 loads.
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv", header+
		"RX1,1,PH1,12345678901,30,30,12,2024-06-15,45.99,2.50,,,\n"+
		"RX2,2,PH1,12345678901,30,30,-1,2024-06-15,45.99,2.50,,,\n"+
		"RX3,3,PH1,12345678901,30,30,11,2024-06-15,45.99,2.50,,,\n")

	s, warnings := newTestSource(t, dir)
	claims, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "RX3", claims[0].ClaimNumber)
	assert.Equal(t, 11, claims[0].RefillNumber)
	assert.Equal(t, int64(2), s.Skipped())
	assert.Contains(t, warnings.String(), "refill_number")
}

func TestMissingRequiredColumnIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv",
		"member_id,pharmacy_id\n1,PH1\n")

	s, _ := newTestSource(t, dir)
	_, err := s.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required column")
}

func TestDiscoverSortsShards(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pharmacy_claims_simulation_002.csv", header+
		"RX-B,2,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n")
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv", header+
		"RX-A,1,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n")

	s, _ := newTestSource(t, dir)
	files, err := s.Discover()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Contains(t, files[0], "001")

	claims, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "RX-A", claims[0].ClaimNumber)
	assert.Equal(t, "RX-B", claims[1].ClaimNumber)
}

func TestDiscoverFailures(t *testing.T) {
	s, _ := newTestSource(t, filepath.Join(t.TempDir(), "nope"))
	_, err := s.Discover()
	assert.Error(t, err, "missing directory is fatal")

	s2, _ := newTestSource(t, t.TempDir())
	_, err = s2.Discover()
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestGeneratedClaimNumbersAreUnique(t *testing.T) {
	dir := t.TempDir()
	// claim_number column present but empty: each row gets a generated one.
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv", header+
		",1,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n"+
		",2,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n")

	s, _ := newTestSource(t, dir)
	claims, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.NotEmpty(t, claims[0].ClaimNumber)
	assert.NotEqual(t, claims[0].ClaimNumber, claims[1].ClaimNumber)
	assert.LessOrEqual(t, len(claims[0].ClaimNumber), claim.MaxClaimNumberLength)
}

func TestTransactionTypeDefaultsToBilling(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv", header+
		"RX1,1,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n"+
		"RX2,2,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,B2\n")

	s, _ := newTestSource(t, dir)
	claims, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, claim.TransactionBilling, claims[0].TransactionType)
	assert.Equal(t, claim.TransactionReversal, claims[1].TransactionType)
}

func TestStreamMatchesLoadAllOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv", header+
		"RX1,1,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n"+
		"RX2,2,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n"+
		"RX3,3,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n")

	s, _ := newTestSource(t, dir)
	ch := make(chan *claim.Claim, 2)
	done := make(chan error, 1)
	go func() { done <- s.Stream(context.Background(), ch) }()

	var got []string
	for c := range ch {
		got = append(got, c.ClaimNumber)
	}
	require.NoError(t, <-done)
	assert.Equal(t, []string{"RX1", "RX2", "RX3"}, got)
}

func TestStreamStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	body := header
	for i := 0; i < 100; i++ {
		body += "RX1,1,PH1,12345678901,30,30,0,2024-06-15,1.00,1.00,,,\n"
	}
	writeFile(t, dir, "pharmacy_claims_simulation_001.csv", body)

	ctx, cancel := context.WithCancel(context.Background())
	s, _ := newTestSource(t, dir)
	ch := make(chan *claim.Claim) // unbuffered: producer blocks immediately
	done := make(chan error, 1)
	go func() { done <- s.Stream(ctx, ch) }()

	<-ch
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
