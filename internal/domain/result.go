package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Rejection describes a line that could not be parsed.
type Rejection struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// IngestionResult summarises one ingestion call.
type IngestionResult struct {
	RunID      string
	Processed  int
	Skipped    int
	Rejected   int
	Rejections []Rejection
	Duration   time.Duration
}

// FormatDuration renders a duration the way results are reported to callers,
// e.g. "0.12s".
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// MarshalJSON renders the result with a human readable processing time.
func (r IngestionResult) MarshalJSON() ([]byte, error) {
	rejections := r.Rejections
	if rejections == nil {
		rejections = []Rejection{}
	}
	return json.Marshal(struct {
		RunID          string      `json:"runId,omitempty"`
		Processed      int         `json:"processed"`
		Skipped        int         `json:"skipped"`
		Rejected       int         `json:"rejected"`
		Rejections     []Rejection `json:"rejections"`
		ProcessingTime string      `json:"processingTime"`
	}{
		RunID:          r.RunID,
		Processed:      r.Processed,
		Skipped:        r.Skipped,
		Rejected:       r.Rejected,
		Rejections:     rejections,
		ProcessingTime: FormatDuration(r.Duration),
	})
}

// Extremum is the highest or lowest transaction of a data set.
type Extremum struct {
	ExternalID string
	Value      decimal.Decimal
	ClientName string
	Date       civil.Date
}

func (e Extremum) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TransactionID string      `json:"transactionId"`
		Value         json.Number `json:"value"`
		Client        string      `json:"client"`
		Date          civil.Date  `json:"date"`
	}{e.ExternalID, json.Number(e.Value.String()), e.ClientName, e.Date})
}

// DateRange holds the oldest and latest transaction dates. Both are nil when
// there are no transactions.
type DateRange struct {
	Oldest *civil.Date `json:"oldest"`
	Latest *civil.Date `json:"latest"`
}

// Statistics is a point-in-time aggregate over all stored transactions.
type Statistics struct {
	TotalTransactions  int64
	TotalClients       int64
	TotalValue         decimal.Decimal
	AverageValue       decimal.Decimal
	HighestTransaction *Extremum
	LowestTransaction  *Extremum
	DateRange          DateRange
	Duration           time.Duration
}

func (s Statistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TotalTransactions  int64       `json:"totalTransactions"`
		TotalClients       int64       `json:"totalClients"`
		TotalValue         json.Number `json:"totalValue"`
		AverageValue       json.Number `json:"averageValue"`
		HighestTransaction *Extremum   `json:"highestTransaction"`
		LowestTransaction  *Extremum   `json:"lowestTransaction"`
		DateRange          DateRange   `json:"dateRange"`
		ProcessingTime     string      `json:"processingTime"`
	}{
		TotalTransactions:  s.TotalTransactions,
		TotalClients:       s.TotalClients,
		TotalValue:         json.Number(s.TotalValue.String()),
		AverageValue:       json.Number(s.AverageValue.StringFixed(2)),
		HighestTransaction: s.HighestTransaction,
		LowestTransaction:  s.LowestTransaction,
		DateRange:          s.DateRange,
		ProcessingTime:     FormatDuration(s.Duration),
	})
}
