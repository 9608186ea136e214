// Package budget enforces spend ceilings across per-transaction, daily, and
// monthly windows, with crash-safe persistence of accumulated spend.
package budget

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leventilo/boltzpay-sub000/money"
)

// Violation identifies which limit a transaction would exceed.
type Violation string

const (
	None            Violation = ""
	PerTransaction  Violation = "per-transaction"
	Daily           Violation = "daily"
	Monthly         Violation = "monthly"
)

// Limits holds the optional spend ceilings. A nil limit means unlimited.
type Limits struct {
	Daily            *money.Money
	Monthly          *money.Money
	PerTransaction   *money.Money
	WarningThreshold float64 // fraction in [0,1]
	SatToUSDRate     float64
}

// Warning is emitted when spend in a period crosses WarningThreshold.
type Warning struct {
	Period  string // "daily" or "monthly"
	SpentBp int64  // spend as basis points of the limit
}

// State is a point-in-time snapshot of spend and remaining budget.
type State struct {
	DailySpent        money.Money
	MonthlySpent      money.Money
	DailyRemaining    *money.Money
	MonthlyRemaining  *money.Money
	LastDailyReset    string
	LastMonthlyReset  string
}

// Manager tracks spend against Limits and persists state across restarts.
// All mutating methods are safe for concurrent use.
type Manager struct {
	limits Limits
	dir    string // empty disables persistence
	logger *slog.Logger

	// Now returns the current time; overridable in tests.
	Now func() time.Time

	mu                sync.Mutex
	dailySpent        money.Money
	monthlySpent      money.Money
	lastDailyReset    string
	lastMonthlyReset  string
}

// NewManager constructs a Manager, loading persisted state from dir if dir
// is non-empty. A missing or corrupt state file yields a fresh zero state,
// never an error.
func NewManager(limits Limits, dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		limits:       limits,
		dir:          dir,
		logger:       logger,
		Now:          time.Now,
		dailySpent:   money.FromCents(0),
		monthlySpent: money.FromCents(0),
	}
	if dir != "" {
		m.load()
	}
	m.rollIfNeeded()
	return m
}

func (m *Manager) statePath() string {
	return filepath.Join(m.dir, "budget.json")
}

type persistedState struct {
	DailySpent       string `json:"dailySpent"`
	MonthlySpent     string `json:"monthlySpent"`
	LastDailyReset   string `json:"lastDailyReset"`
	LastMonthlyReset string `json:"lastMonthlyReset"`
}

func (m *Manager) load() {
	data, err := os.ReadFile(m.statePath())
	if err != nil {
		return
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		m.logger.Warn("budget: discarding corrupt state file", "path", m.statePath(), "error", err)
		return
	}
	daily, ok1 := new(big.Int).SetString(ps.DailySpent, 10)
	monthly, ok2 := new(big.Int).SetString(ps.MonthlySpent, 10)
	if !ok1 || !ok2 {
		m.logger.Warn("budget: discarding state file with unparseable amounts", "path", m.statePath())
		return
	}
	m.dailySpent = money.FromCentsBig(daily)
	m.monthlySpent = money.FromCentsBig(monthly)
	m.lastDailyReset = ps.LastDailyReset
	m.lastMonthlyReset = ps.LastMonthlyReset
}

// rollIfNeeded resets dailySpent/monthlySpent when the calendar day/month
// has advanced since the last recorded reset key. Must be called with mu
// held or during single-threaded construction.
func (m *Manager) rollIfNeeded() bool {
	today := m.Now().Format("2006-01-02")
	month := m.Now().Format("2006-01")
	changed := false
	if m.lastDailyReset != today {
		m.dailySpent = money.FromCents(0)
		m.lastDailyReset = today
		changed = true
	}
	if m.lastMonthlyReset != month {
		m.monthlySpent = money.FromCents(0)
		m.lastMonthlyReset = month
		changed = true
	}
	return changed
}

func (m *Manager) persistLocked() {
	if m.dir == "" {
		return
	}
	ps := persistedState{
		DailySpent:       m.dailySpent.MinorUnits().String(),
		MonthlySpent:     m.monthlySpent.MinorUnits().String(),
		LastDailyReset:   m.lastDailyReset,
		LastMonthlyReset: m.lastMonthlyReset,
	}
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		m.logger.Error("budget: failed to marshal state", "error", err)
		return
	}
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		m.logger.Error("budget: failed to create state directory", "dir", m.dir, "error", err)
		return
	}
	// Write-then-rename so a crash mid-write never corrupts or truncates
	// the previously recorded spend.
	tmp, err := os.CreateTemp(m.dir, "budget-*.json.tmp")
	if err != nil {
		m.logger.Error("budget: failed to create temp state file", "error", err)
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		m.logger.Error("budget: failed to write temp state file", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		m.logger.Error("budget: failed to close temp state file", "error", err)
		return
	}
	if err := os.Rename(tmpPath, m.statePath()); err != nil {
		os.Remove(tmpPath)
		m.logger.Error("budget: failed to install new state file", "error", err)
	}
}

// ConvertToUSD converts amount to USD for budget accounting. USD passes
// through unchanged; SATS is converted using scaled integer arithmetic so
// that no payment's accounting value ever rounds down to zero.
func (m *Manager) ConvertToUSD(amount money.Money) money.Money {
	if amount.Currency() == money.USD {
		return amount
	}
	rateScaled := big.NewInt(int64(m.limits.SatToUSDRate*100*1e6 + 0.5))
	cents := new(big.Int).Mul(amount.MinorUnits(), rateScaled)
	cents.Quo(cents, big.NewInt(1e6))
	if cents.Sign() == 0 && amount.MinorUnits().Sign() > 0 {
		cents.SetInt64(1)
	}
	return money.FromCentsBig(cents)
}

// CheckTransaction reports the first limit amountUSD (already USD) would
// violate, checked in order per-transaction, daily, monthly.
func (m *Manager) CheckTransaction(amountUSD money.Money) Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollIfNeeded()

	if m.limits.PerTransaction != nil && amountUSD.GreaterThan(*m.limits.PerTransaction) {
		return PerTransaction
	}
	if m.limits.Daily != nil && m.dailySpent.Add(amountUSD).GreaterThan(*m.limits.Daily) {
		return Daily
	}
	if m.limits.Monthly != nil && m.monthlySpent.Add(amountUSD).GreaterThan(*m.limits.Monthly) {
		return Monthly
	}
	return None
}

// RecordSpending increments both daily and monthly counters by amountUSD
// and persists the new state.
func (m *Manager) RecordSpending(amountUSD money.Money) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollIfNeeded()
	m.dailySpent = m.dailySpent.Add(amountUSD)
	m.monthlySpent = m.monthlySpent.Add(amountUSD)
	m.persistLocked()
}

// CheckWarning returns at most one Warning: the daily one if daily spend
// has crossed WarningThreshold, otherwise the monthly one if monthly spend
// has. A daily warning shadows the monthly one. Comparisons use basis
// points to avoid float error.
func (m *Manager) CheckWarning() []Warning {
	m.mu.Lock()
	defer m.mu.Unlock()

	var warnings []Warning
	thresholdBp := int64(m.limits.WarningThreshold * 10000)

	if m.limits.Daily != nil && !m.limits.Daily.IsZero() {
		spentBp := bp(m.dailySpent, *m.limits.Daily)
		if spentBp >= thresholdBp {
			warnings = append(warnings, Warning{Period: "daily", SpentBp: spentBp})
			return warnings
		}
	}
	if m.limits.Monthly != nil && !m.limits.Monthly.IsZero() {
		spentBp := bp(m.monthlySpent, *m.limits.Monthly)
		if spentBp >= thresholdBp {
			warnings = append(warnings, Warning{Period: "monthly", SpentBp: spentBp})
		}
	}
	return warnings
}

func bp(spent, limit money.Money) int64 {
	num := new(big.Int).Mul(spent.MinorUnits(), big.NewInt(10000))
	den := limit.MinorUnits()
	if den.Sign() == 0 {
		return 0
	}
	return new(big.Int).Quo(num, den).Int64()
}

// ResetDaily zeroes the daily counter and persists.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailySpent = money.FromCents(0)
	m.lastDailyReset = m.Now().Format("2006-01-02")
	m.persistLocked()
}

// GetState returns a snapshot including remaining budget per period.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollIfNeeded()

	st := State{
		DailySpent:       m.dailySpent,
		MonthlySpent:     m.monthlySpent,
		LastDailyReset:   m.lastDailyReset,
		LastMonthlyReset: m.lastMonthlyReset,
	}
	if m.limits.Daily != nil {
		st.DailyRemaining = remaining(*m.limits.Daily, m.dailySpent)
	}
	if m.limits.Monthly != nil {
		st.MonthlyRemaining = remaining(*m.limits.Monthly, m.monthlySpent)
	}
	return st
}

func remaining(limit, spent money.Money) *money.Money {
	if spent.GreaterThanOrEqual(limit) {
		z := money.FromCents(0)
		return &z
	}
	r := limit.Subtract(spent)
	return &r
}
