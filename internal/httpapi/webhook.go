package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

const (
	triggerStoreTransaction = "STORE_TRANSACTION"
	responseTransactions    = "TRANSACTIONS"
	typeWithdrawal          = "withdrawal"
)

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("expected string or number")
	}
	*f = flexString(n.String())
	return nil
}

type webhookTransaction struct {
	JournalID       flexString      `json:"transaction_journal_id"`
	Type            string          `json:"type"`
	CategoryID      json.RawMessage `json:"category_id"`
	Description     string          `json:"description"`
	DestinationName string          `json:"destination_name"`
	Tags            []string        `json:"tags"`
}

type webhookPayload struct {
	Trigger  string `json:"trigger"`
	Response string `json:"response"`
	Content  struct {
		ID           flexString           `json:"id"`
		Transactions []webhookTransaction `json:"transactions"`
	} `json:"content"`
}

// validationError is a payload the webhook refuses to process.
type validationError string

func (e validationError) Error() string { return string(e) }

func hasCategory(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// workItem validates a Firefly III webhook and turns it into a work item.
func (p *webhookPayload) workItem() (domain.WorkItem, error) {
	if p.Trigger != triggerStoreTransaction {
		return domain.WorkItem{}, validationError("trigger is not STORE_TRANSACTION. Request will not be processed")
	}
	if p.Response != responseTransactions {
		return domain.WorkItem{}, validationError("response is not TRANSACTIONS. Request will not be processed")
	}
	if p.Content.ID == "" || p.Content.ID == "0" {
		return domain.WorkItem{}, validationError("Missing content.id")
	}
	if len(p.Content.Transactions) == 0 {
		return domain.WorkItem{}, validationError("No transactions are available in content.transactions")
	}

	first := p.Content.Transactions[0]
	if first.Type != typeWithdrawal {
		return domain.WorkItem{}, validationError("content.transactions[0].type has to be 'withdrawal'. Transaction will be ignored.")
	}
	if hasCategory(first.CategoryID) {
		return domain.WorkItem{}, validationError("content.transactions[0].category_id is already set. Transaction will be ignored.")
	}
	if first.Description == "" {
		return domain.WorkItem{}, validationError("Missing content.transactions[0].description")
	}
	if first.DestinationName == "" {
		return domain.WorkItem{}, validationError("Missing content.transactions[0].destination_name")
	}

	item := domain.WorkItem{
		GroupID:      string(p.Content.ID),
		Merchant:     first.DestinationName,
		Description:  first.Description,
		Transactions: make([]domain.LedgerTransaction, 0, len(p.Content.Transactions)),
	}
	for i, tx := range p.Content.Transactions {
		if tx.JournalID == "" {
			return domain.WorkItem{}, validationError("Missing content.transactions[" + strconv.Itoa(i) + "].transaction_journal_id")
		}
		item.Transactions = append(item.Transactions, domain.LedgerTransaction{
			JournalID:       string(tx.JournalID),
			Type:            tx.Type,
			Description:     tx.Description,
			DestinationName: tx.DestinationName,
			Tags:            tx.Tags,
		})
	}
	return item, nil
}
