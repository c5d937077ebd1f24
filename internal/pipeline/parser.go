package pipeline

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

const (
	fieldSeparator = ";"
	labelSeparator = ":"
)

// Positional field names of a record line.
var recordFields = [...]string{"externalId", "clientName", "taxId", "date", "value"}

// DefaultDateLayouts are the date formats accepted when no layouts are configured.
var DefaultDateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

// Parser turns record lines into domain records. A line holds five
// semicolon-separated fields, each written as label:value. Labels are ignored
// and fields are mapped by position.
type Parser struct {
	dateLayouts []string
}

// NewParser creates a parser accepting the given date layouts, or
// DefaultDateLayouts when none are given.
func NewParser(dateLayouts ...string) *Parser {
	if len(dateLayouts) == 0 {
		dateLayouts = DefaultDateLayouts
	}
	return &Parser{dateLayouts: dateLayouts}
}

// ParseLine parses one non-empty line. Fields beyond the fifth are ignored.
// It returns a *domain.MalformedRecordError when the line cannot be parsed.
func (p *Parser) ParseLine(lineNo int, line string) (*domain.Record, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) < len(recordFields) {
		return nil, &domain.MalformedRecordError{
			Line:   lineNo,
			Reason: fmt.Sprintf("expected %d fields, got %d", len(recordFields), len(fields)),
		}
	}

	var values [len(recordFields)]string
	for i, name := range recordFields {
		_, value, ok := strings.Cut(fields[i], labelSeparator)
		if !ok {
			return nil, &domain.MalformedRecordError{Line: lineNo, Field: name, Reason: "missing label separator"}
		}
		values[i] = strings.TrimSpace(value)
	}

	for i, name := range recordFields[:3] {
		if values[i] == "" {
			return nil, &domain.MalformedRecordError{Line: lineNo, Field: name, Reason: "empty value"}
		}
	}

	date, err := p.parseDate(values[3])
	if err != nil {
		return nil, &domain.MalformedRecordError{Line: lineNo, Field: recordFields[3], Err: err}
	}

	value, err := parseValue(values[4])
	if err != nil {
		return nil, &domain.MalformedRecordError{Line: lineNo, Field: recordFields[4], Err: err}
	}

	return &domain.Record{
		Line:       lineNo,
		ExternalID: values[0],
		ClientName: norm.NFC.String(values[1]),
		TaxID:      values[2],
		Date:       date,
		Value:      value,
	}, nil
}

func (p *Parser) parseDate(s string) (civil.Date, error) {
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}
	for _, layout := range p.dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognised date %q", s)
}

// parseValue parses a decimal amount. A single comma is accepted as the
// decimal separator when the value has no dot.
func parseValue(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty value")
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
