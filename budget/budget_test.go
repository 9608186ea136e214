package budget

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leventilo/boltzpay-sub000/money"
)

func dollars(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.FromDollars(s)
	if err != nil {
		t.Fatalf("FromDollars(%q): %v", s, err)
	}
	return m
}

func TestConvertToUSDDefaultRate(t *testing.T) {
	mgr := NewManager(Limits{SatToUSDRate: 0.001}, "", nil)
	// 5 sats at the default rate floors to half a cent, but must never
	// round down below 1 cent.
	got := mgr.ConvertToUSD(money.FromSatoshis(5))
	if !got.Equals(money.FromCents(1)) {
		t.Errorf("ConvertToUSD(5 sats) = %v, want 1 cent", got)
	}

	got = mgr.ConvertToUSD(money.FromSatoshis(2000))
	if !got.Equals(money.FromCents(200)) {
		t.Errorf("ConvertToUSD(2000 sats) = %v, want 200 cents", got)
	}
}

func TestCheckTransactionOrder(t *testing.T) {
	daily := dollars(t, "1.00")
	mgr := NewManager(Limits{Daily: &daily, SatToUSDRate: 0.001}, "", nil)

	if v := mgr.CheckTransaction(dollars(t, "2.00")); v != Daily {
		t.Errorf("expected Daily violation, got %v", v)
	}
	if v := mgr.CheckTransaction(dollars(t, "0.50")); v != None {
		t.Errorf("expected no violation, got %v", v)
	}
}

func TestRecordSpendingAccumulates(t *testing.T) {
	mgr := NewManager(Limits{SatToUSDRate: 0.001}, "", nil)
	mgr.RecordSpending(dollars(t, "0.10"))
	mgr.RecordSpending(dollars(t, "0.20"))
	st := mgr.GetState()
	if !st.DailySpent.Equals(dollars(t, "0.30")) {
		t.Errorf("DailySpent = %v, want 0.30", st.DailySpent)
	}
	if !st.MonthlySpent.Equals(dollars(t, "0.30")) {
		t.Errorf("MonthlySpent = %v, want 0.30", st.MonthlySpent)
	}
}

func TestCheckWarningDailyShadowsMonthly(t *testing.T) {
	daily := dollars(t, "1.00")
	monthly := dollars(t, "10.00")
	mgr := NewManager(Limits{Daily: &daily, Monthly: &monthly, WarningThreshold: 0.8, SatToUSDRate: 0.001}, "", nil)
	mgr.RecordSpending(dollars(t, "0.90"))

	warnings := mgr.CheckWarning()
	if len(warnings) == 0 || warnings[0].Period != "daily" {
		t.Fatalf("expected daily warning first, got %+v", warnings)
	}
}

func TestPersistenceRoundTripSameDay(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(Limits{SatToUSDRate: 0.001}, dir, nil)
	mgr.RecordSpending(dollars(t, "1.23"))

	reloaded := NewManager(Limits{SatToUSDRate: 0.001}, dir, nil)
	reloaded.Now = mgr.Now
	st := reloaded.GetState()
	if !st.DailySpent.Equals(dollars(t, "1.23")) {
		t.Errorf("reloaded DailySpent = %v, want 1.23", st.DailySpent)
	}
}

func TestPersistenceResetsOnNewDay(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(Limits{SatToUSDRate: 0.001}, dir, nil)
	yesterday := time.Now().AddDate(0, 0, -1)
	mgr.Now = func() time.Time { return yesterday }
	mgr.RecordSpending(dollars(t, "5.00"))

	reloaded := NewManager(Limits{SatToUSDRate: 0.001}, dir, nil)
	st := reloaded.GetState()
	if !st.DailySpent.IsZero() {
		t.Errorf("expected daily spend reset across day boundary, got %v", st.DailySpent)
	}
}

func TestCorruptStateFileYieldsZeroState(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "budget.json"), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	mgr := NewManager(Limits{SatToUSDRate: 0.001}, dir, nil)
	st := mgr.GetState()
	if !st.DailySpent.IsZero() || !st.MonthlySpent.IsZero() {
		t.Errorf("expected zero state from corrupt file, got %+v", st)
	}
}
