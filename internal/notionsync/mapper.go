package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the transactions database.
const (
	PropTransactionID = "Transaction ID"
	PropClient        = "Client"
	PropTaxID         = "CPF/CNPJ"
	PropDate          = "Date"
	PropValue         = "Value"
	PropRunID         = "Ingestion Run ID"
)

// TransactionToNotionProperties converts a stored transaction to Notion
// properties. The external transaction id is the page title.
func TransactionToNotionProperties(tx *domain.Transaction) notionapi.Properties {
	props := notionapi.Properties{
		PropTransactionID: notionapi.TitleProperty{
			Title: richText(tx.ExternalID),
		},
		PropDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: dateOf(tx.Date),
			},
		},
		PropValue: notionapi.NumberProperty{
			Number: tx.Value.InexactFloat64(),
		},
	}

	if tx.Client != nil {
		props[PropClient] = notionapi.RichTextProperty{RichText: richText(tx.Client.Name)}
		props[PropTaxID] = notionapi.RichTextProperty{RichText: richText(tx.Client.TaxID)}
	}

	if tx.IngestionRunID != "" {
		props[PropRunID] = notionapi.RichTextProperty{RichText: richText(tx.IngestionRunID)}
	}

	return props
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

func dateOf(d civil.Date) *notionapi.Date {
	nd := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return &nd
}

// extractTransactionID extracts the transaction ID from a Notion page's properties.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	prop, ok := page.Properties[PropTransactionID]
	if !ok {
		return ""
	}

	var text []notionapi.RichText
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		text = p.Title
	case *notionapi.RichTextProperty:
		text = p.RichText
	}
	if len(text) == 0 {
		return ""
	}
	if text[0].PlainText != "" {
		return text[0].PlainText
	}
	if text[0].Text != nil {
		return text[0].Text.Content
	}
	return ""
}
