package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Client is a payer identified by its tax identifier. Clients are created
// lazily the first time a transaction references an unknown tax id and are
// never mutated afterwards.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaxID     string    `json:"cpfCnpj"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is one ingested payment record. ExternalID is the identifier
// carried by the source file and is unique across the store.
type Transaction struct {
	ID             string          `json:"id"`
	ExternalID     string          `json:"transactionId"`
	ClientID       string          `json:"clientId"`
	Client         *Client         `json:"client,omitempty"` // populated on reads
	Date           civil.Date      `json:"date"`
	Value          decimal.Decimal `json:"value"`
	IngestionRunID string          `json:"ingestionRunId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Record is the parsed form of a single input line.
type Record struct {
	Line       int
	ExternalID string
	ClientName string
	TaxID      string
	Date       civil.Date
	Value      decimal.Decimal
}
