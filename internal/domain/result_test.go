package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.00s", FormatDuration(0))
	assert.Equal(t, "0.12s", FormatDuration(123*time.Millisecond))
	assert.Equal(t, "2.50s", FormatDuration(2500*time.Millisecond))
}

func TestIngestionResult_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(IngestionResult{Processed: 1, Skipped: 1, Duration: 40 * time.Millisecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed":1,"skipped":1,"rejected":0,"rejections":[],"processingTime":"0.04s"}`, string(raw))

	raw, err = json.Marshal(IngestionResult{
		RunID:      "r1",
		Rejected:   1,
		Rejections: []Rejection{{Line: 3, Reason: "bad"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"runId":"r1","processed":0,"skipped":0,"rejected":1,"rejections":[{"line":3,"reason":"bad"}],"processingTime":"0.00s"}`, string(raw))
}

func TestStatistics_MarshalJSON(t *testing.T) {
	oldest := civil.Date{Year: 2023, Month: 12, Day: 1}
	latest := civil.Date{Year: 2024, Month: 3, Day: 1}
	s := Statistics{
		TotalTransactions: 3,
		TotalClients:      2,
		TotalValue:        decimal.RequireFromString("350.00"),
		AverageValue:      decimal.RequireFromString("116.666").Round(2),
		HighestTransaction: &Extremum{
			ExternalID: "B",
			Value:      decimal.NewFromInt(300),
			ClientName: "Bob",
			Date:       latest,
		},
		DateRange: DateRange{Oldest: &oldest, Latest: &latest},
		Duration:  10 * time.Millisecond,
	}

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"totalTransactions": 3,
		"totalClients": 2,
		"totalValue": 350,
		"averageValue": 116.67,
		"highestTransaction": {"transactionId": "B", "value": 300, "client": "Bob", "date": "2024-03-01"},
		"lowestTransaction": null,
		"dateRange": {"oldest": "2023-12-01", "latest": "2024-03-01"},
		"processingTime": "0.01s"
	}`, string(raw))
}

func TestIngestionRun_Finish(t *testing.T) {
	run := &IngestionRun{ID: "r1", Status: RunStatusRunning}
	run.Finish(RunStatusSuccess, &IngestionResult{Processed: 2, Skipped: 1, Rejected: 3}, nil)

	assert.Equal(t, RunStatusSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 3, run.Rejected)
	assert.Empty(t, run.ErrorMessage)

	run.Finish(RunStatusFailed, nil, errors.New(strings.Repeat("x", MaxRunErrorLength+50)))
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Len(t, run.ErrorMessage, MaxRunErrorLength)
	assert.Equal(t, 2, run.Processed)
}

func TestMalformedRecordError(t *testing.T) {
	cause := errors.New(`unrecognised date "x"`)
	err := &MalformedRecordError{Line: 4, Field: "date", Err: cause}
	assert.Equal(t, `line 4: malformed record: field date: unrecognised date "x"`, err.Error())
	assert.True(t, errors.Is(err, cause))

	err = &MalformedRecordError{Line: 2, Reason: "expected 5 fields, got 2"}
	assert.Equal(t, "line 2: malformed record: expected 5 fields, got 2", err.Error())
}
