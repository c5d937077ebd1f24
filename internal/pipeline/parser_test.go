package pipeline

import (
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ParseLine(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name      string
		line      string
		wantID    string
		wantName  string
		wantTaxID string
		wantDate  civil.Date
		wantValue string
	}{
		{
			name:      "basic record",
			line:      "ID:TX1;NOME:Alice;CPF:111;DATA:2024-05-01;VALOR:250.00",
			wantID:    "TX1",
			wantName:  "Alice",
			wantTaxID: "111",
			wantDate:  civil.Date{Year: 2024, Month: 5, Day: 1},
			wantValue: "250",
		},
		{
			name:      "labels are ignored",
			line:      "a:TX2;b:Bob;c:222;d:2024-01-31;e:-10.5",
			wantID:    "TX2",
			wantName:  "Bob",
			wantTaxID: "222",
			wantDate:  civil.Date{Year: 2024, Month: 1, Day: 31},
			wantValue: "-10.5",
		},
		{
			name:      "whitespace trimmed",
			line:      " ID: TX3 ; NOME: Carol Smith ;CPF: 333 ;DATA: 2023-12-01 ;VALOR: 7 ",
			wantID:    "TX3",
			wantName:  "Carol Smith",
			wantTaxID: "333",
			wantDate:  civil.Date{Year: 2023, Month: 12, Day: 1},
			wantValue: "7",
		},
		{
			name:      "value keeps text after first colon",
			line:      "ID:TX:4;NOME:Dan;CPF:444;DATA:2024-02-29;VALOR:1",
			wantID:    "TX:4",
			wantName:  "Dan",
			wantTaxID: "444",
			wantDate:  civil.Date{Year: 2024, Month: 2, Day: 29},
			wantValue: "1",
		},
		{
			name:      "extra fields ignored",
			line:      "ID:TX5;NOME:Eve;CPF:555;DATA:2024-03-01;VALOR:3;OBS:note",
			wantID:    "TX5",
			wantName:  "Eve",
			wantTaxID: "555",
			wantDate:  civil.Date{Year: 2024, Month: 3, Day: 1},
			wantValue: "3",
		},
		{
			name:      "comma decimal separator",
			line:      "ID:TX6;NOME:Fay;CPF:666;DATA:2024-03-01;VALOR:12,34",
			wantID:    "TX6",
			wantName:  "Fay",
			wantTaxID: "666",
			wantDate:  civil.Date{Year: 2024, Month: 3, Day: 1},
			wantValue: "12.34",
		},
		{
			name:      "day first date",
			line:      "ID:TX7;NOME:Gus;CPF:777;DATA:15/06/2024;VALOR:1.00",
			wantID:    "TX7",
			wantName:  "Gus",
			wantTaxID: "777",
			wantDate:  civil.Date{Year: 2024, Month: 6, Day: 15},
			wantValue: "1",
		},
		{
			name:      "RFC3339 timestamp",
			line:      "ID:TX8;NOME:Hal;CPF:888;DATA:2024-06-15T10:00:00Z;VALOR:1.00",
			wantID:    "TX8",
			wantName:  "Hal",
			wantTaxID: "888",
			wantDate:  civil.Date{Year: 2024, Month: 6, Day: 15},
			wantValue: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parser.ParseLine(1, tt.line)
			require.NoError(t, err)
			assert.Equal(t, 1, rec.Line)
			assert.Equal(t, tt.wantID, rec.ExternalID)
			assert.Equal(t, tt.wantName, rec.ClientName)
			assert.Equal(t, tt.wantTaxID, rec.TaxID)
			assert.Equal(t, tt.wantDate, rec.Date)
			assert.Equal(t, tt.wantValue, rec.Value.String())
		})
	}
}

func TestParser_ParseLine_Malformed(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name      string
		line      string
		wantField string
	}{
		{name: "two fields", line: "ID:TX1;NOME:Alice", wantField: ""},
		{name: "four fields", line: "ID:TX1;NOME:Alice;CPF:111;DATA:2024-05-01", wantField: ""},
		{name: "missing label separator", line: "ID:TX1;Alice;CPF:111;DATA:2024-05-01;VALOR:1", wantField: "clientName"},
		{name: "empty id", line: "ID:;NOME:Alice;CPF:111;DATA:2024-05-01;VALOR:1", wantField: "externalId"},
		{name: "empty tax id", line: "ID:TX1;NOME:Alice;CPF: ;DATA:2024-05-01;VALOR:1", wantField: "taxId"},
		{name: "bad date", line: "ID:TX1;NOME:Alice;CPF:111;DATA:2024-13-45;VALOR:1", wantField: "date"},
		{name: "empty date", line: "ID:TX1;NOME:Alice;CPF:111;DATA:;VALOR:1", wantField: "date"},
		{name: "non numeric value", line: "ID:TX1;NOME:Alice;CPF:111;DATA:2024-05-01;VALOR:abc", wantField: "value"},
		{name: "exponent value", line: "ID:TX1;NOME:Alice;CPF:111;DATA:2024-05-01;VALOR:1e3", wantField: "value"},
		{name: "empty value", line: "ID:TX1;NOME:Alice;CPF:111;DATA:2024-05-01;VALOR:", wantField: "value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parser.ParseLine(7, tt.line)
			require.Error(t, err)
			assert.Nil(t, rec)

			var malformed *domain.MalformedRecordError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, 7, malformed.Line)
			assert.Equal(t, tt.wantField, malformed.Field)
		})
	}
}

func TestParser_NormalizesClientName(t *testing.T) {
	// e followed by a combining acute accent.
	rec, err := NewParser().ParseLine(1, "ID:TX1;NOME:Jose\u0301;CPF:1;DATA:2024-01-01;VALOR:1")
	require.NoError(t, err)
	assert.Equal(t, "Jos\u00e9", rec.ClientName)
}

func TestParser_CustomLayouts(t *testing.T) {
	parser := NewParser("20060102")

	rec, err := parser.ParseLine(1, "ID:TX1;NOME:A;CPF:1;DATA:20240501;VALOR:1")
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 1}, rec.Date)

	_, err = parser.ParseLine(2, "ID:TX2;NOME:A;CPF:1;DATA:2024-05-01;VALOR:1")
	assert.Error(t, err)
}
