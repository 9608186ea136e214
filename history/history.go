// Package history keeps a bounded, disk-backed ring of completed payments.
package history

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leventilo/boltzpay-sub000/money"
)

// Record is one completed payment, persisted as a line of newline-delimited
// JSON. The wire shape of Amount is {cents, currency} regardless of
// currency — "cents" names the minor-unit count whether it denotes USD
// cents or Lightning sats, matching the persisted history format.
type Record struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Protocol  string    `json:"protocol"`
	Amount    money.Money `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	TxHash    string    `json:"txHash,omitempty"`
	Network   string    `json:"network,omitempty"`
}

type wireRecord struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Protocol  string    `json:"protocol"`
	Amount    wireAmount `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	TxHash    string    `json:"txHash,omitempty"`
	Network   string    `json:"network,omitempty"`
}

type wireAmount struct {
	Cents    string         `json:"cents"`
	Currency money.Currency `json:"currency"`
}

func (r Record) toWire() wireRecord {
	return wireRecord{
		ID:        r.ID,
		URL:       r.URL,
		Protocol:  r.Protocol,
		Amount:    wireAmount{Cents: r.Amount.MinorUnits().String(), Currency: r.Amount.Currency()},
		Timestamp: r.Timestamp,
		TxHash:    r.TxHash,
		Network:   r.Network,
	}
}

func (w wireRecord) toRecord() (Record, bool) {
	n, ok := new(big.Int).SetString(w.Amount.Cents, 10)
	if !ok || n.Sign() < 0 {
		return Record{}, false
	}
	var amount money.Money
	switch w.Amount.Currency {
	case money.SATS:
		amount = money.FromSatoshis(n.Int64())
	default:
		amount = money.FromCentsBig(n)
	}
	return Record{
		ID:        w.ID,
		URL:       w.URL,
		Protocol:  w.Protocol,
		Amount:    amount,
		Timestamp: w.Timestamp,
		TxHash:    w.TxHash,
		Network:   w.Network,
	}, true
}

// NewRecord stamps a fresh Record with a generated ID and timestamp.
func NewRecord(url, protocol string, amount money.Money, txHash, network string, now time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		URL:       url,
		Protocol:  protocol,
		Amount:    amount,
		Timestamp: now,
		TxHash:    txHash,
		Network:   network,
	}
}

// History is a bounded ring of Records, optionally persisted as
// newline-delimited JSON.
type History struct {
	mu         sync.Mutex
	records    []Record
	maxRecords int
	dir        string // empty disables persistence
	logger     *slog.Logger
}

// New constructs a History, loading any persisted records from dir (if
// non-empty). Corrupt lines are skipped silently; a missing file yields an
// empty history.
func New(maxRecords int, dir string, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{maxRecords: maxRecords, dir: dir, logger: logger}
	if dir != "" {
		h.load()
	}
	return h
}

func (h *History) path() string {
	return filepath.Join(h.dir, "history.jsonl")
}

func (h *History) load() {
	f, err := os.Open(h.path())
	if err != nil {
		return
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var w wireRecord
		if err := json.Unmarshal(line, &w); err != nil {
			h.logger.Warn("history: skipping corrupt line", "error", err)
			continue
		}
		r, ok := w.toRecord()
		if !ok {
			h.logger.Warn("history: skipping line with unparseable amount")
			continue
		}
		records = append(records, r)
	}
	if len(records) > h.maxRecords {
		records = records[len(records)-h.maxRecords:]
	}
	h.records = records
}

// Append adds r to the ring, trimming the oldest entry if over capacity,
// and persists the result.
func (h *History) Append(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	trimmed := false
	h.records = append(h.records, r)
	if len(h.records) > h.maxRecords {
		h.records = h.records[len(h.records)-h.maxRecords:]
		trimmed = true
	}
	h.persist(trimmed)
}

// persist appends the newest record's wire form to the file, unless the ring just
// trimmed — in which case the whole retained tail is rewritten, matching
// the "rewrite on trim" rule so the file never grows past maxRecords lines.
func (h *History) persist(rewriteAll bool) {
	if h.dir == "" {
		return
	}
	if err := os.MkdirAll(h.dir, 0o700); err != nil {
		h.logger.Error("history: failed to create state directory", "error", err)
		return
	}

	if rewriteAll {
		h.rewriteFile()
		return
	}

	f, err := os.OpenFile(h.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		h.logger.Error("history: failed to open history file", "error", err)
		return
	}
	defer f.Close()

	last := h.records[len(h.records)-1]
	data, err := json.Marshal(last.toWire())
	if err != nil {
		h.logger.Error("history: failed to marshal record", "error", err)
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		h.logger.Error("history: failed to append record", "error", err)
	}
}

func (h *History) rewriteFile() {
	tmp, err := os.CreateTemp(h.dir, "history-*.jsonl.tmp")
	if err != nil {
		h.logger.Error("history: failed to create temp file", "error", err)
		return
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, r := range h.records {
		data, err := json.Marshal(r.toWire())
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		h.logger.Error("history: failed to flush temp file", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		h.logger.Error("history: failed to close temp file", "error", err)
		return
	}
	if err := os.Rename(tmpPath, h.path()); err != nil {
		os.Remove(tmpPath)
		h.logger.Error("history: failed to install rewritten file", "error", err)
	}
}

// Records returns a snapshot of the retained tail, oldest first.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.records...)
}

// Len reports the current record count.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
