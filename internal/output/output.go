// Package output renders command line summaries.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	blue   = color.New(color.FgBlue)
	red    = color.New(color.FgRed)
)

// Printer writes coloured output to w.
type Printer struct {
	w io.Writer
}

// New creates a printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Header prints a formatted header
func (p *Printer) Header(text string) {
	line := strings.Repeat("=", 60)
	green.Fprintf(p.w, "\n%s\n", line)
	green.Fprintf(p.w, "%-60s\n", center(text, 60))
	green.Fprintf(p.w, "%s\n\n", line)
}

// Success prints a success message
func (p *Printer) Success(text string) {
	green.Fprintf(p.w, "  → %s\n", text)
}

// Info prints an info message
func (p *Printer) Info(text string) {
	fmt.Fprintf(p.w, "  → %s\n", text)
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	yellow.Fprintf(p.w, "  ⚠ %s\n", text)
}

// Error prints an error message
func (p *Printer) Error(text string) {
	red.Fprintf(p.w, "Error: %s\n", text)
}

// IngestionResult prints the counters of one ingestion call and the first
// rejected lines.
func (p *Printer) IngestionResult(source string, res *domain.IngestionResult) {
	p.Header("Ingestion Summary")
	p.Info("Source:    " + source)
	p.Info("Run:       " + res.RunID)
	p.Success(fmt.Sprintf("Processed: %d", res.Processed))
	p.Info(fmt.Sprintf("Skipped:   %d", res.Skipped))

	if res.Rejected == 0 {
		p.Info("Rejected:  0")
	} else {
		p.Warning(fmt.Sprintf("Rejected:  %d", res.Rejected))
		for _, r := range res.Rejections {
			red.Fprintf(p.w, "      line %d: %s\n", r.Line, r.Reason)
		}
		if hidden := res.Rejected - len(res.Rejections); hidden > 0 {
			fmt.Fprintf(p.w, "      ... and %d more\n", hidden)
		}
	}
	p.Info("Time:      " + domain.FormatDuration(res.Duration))
}

// Statistics prints a statistics snapshot.
func (p *Printer) Statistics(s *domain.Statistics) {
	p.Header("Transaction Statistics")
	p.Info(fmt.Sprintf("Transactions: %d", s.TotalTransactions))
	p.Info(fmt.Sprintf("Clients:      %d", s.TotalClients))
	p.Info("Total value:  " + s.TotalValue.StringFixed(2))
	p.Info("Average:      " + s.AverageValue.StringFixed(2))

	if s.HighestTransaction != nil {
		p.Success("Highest:      " + extremum(s.HighestTransaction))
	}
	if s.LowestTransaction != nil {
		p.Warning("Lowest:       " + extremum(s.LowestTransaction))
	}
	if s.DateRange.Oldest != nil && s.DateRange.Latest != nil {
		p.Info(fmt.Sprintf("Date range:   %s .. %s", s.DateRange.Oldest, s.DateRange.Latest))
	}
	p.Info("Time:         " + domain.FormatDuration(s.Duration))
}

func extremum(e *domain.Extremum) string {
	return fmt.Sprintf("%s %s (%s, %s)", e.ExternalID, e.Value.StringFixed(2), e.ClientName, e.Date)
}

// Transactions prints one page of transactions.
func (p *Printer) Transactions(txs []*domain.Transaction, total int64) {
	p.Header(fmt.Sprintf("Transactions (%d of %d)", len(txs), total))
	for _, tx := range txs {
		client := tx.ClientID
		if tx.Client != nil {
			client = tx.Client.Name
		}
		value := tx.Value.StringFixed(2)
		if tx.Value.IsNegative() {
			value = red.Sprint(value)
		}
		fmt.Fprintf(p.w, "  %s  %-12s %12s  %s\n", tx.Date, tx.ExternalID, value, client)
	}
}

// Runs prints ingestion runs, most recent first.
func (p *Printer) Runs(runs []*domain.IngestionRun) {
	p.Header(fmt.Sprintf("Ingestion Runs (%d)", len(runs)))
	for _, run := range runs {
		status := string(run.Status)
		switch run.Status {
		case domain.RunStatusSuccess:
			status = green.Sprint(status)
		case domain.RunStatusFailed, domain.RunStatusCancelled:
			status = red.Sprint(status)
		default:
			status = blue.Sprint(status)
		}
		fmt.Fprintf(p.w, "  %s  %-9s %-24s processed=%d skipped=%d rejected=%d\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), status, run.Filename,
			run.Processed, run.Skipped, run.Rejected)
		if run.ErrorMessage != "" {
			red.Fprintf(p.w, "      %s\n", run.ErrorMessage)
		}
	}
}

// center centers text within a given width
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text
}
