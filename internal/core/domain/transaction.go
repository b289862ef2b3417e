package domain

// LedgerTransaction is one split (journal) of a ledger transaction group.
type LedgerTransaction struct {
	JournalID       string   `json:"transaction_journal_id"`
	Type            string   `json:"type,omitempty"`
	Description     string   `json:"description,omitempty"`
	DestinationName string   `json:"destination_name,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// WorkItem is everything needed to (re)run a classification job. It is what
// the retry ledger serializes into RetryRecord.Data.
type WorkItem struct {
	GroupID      string              `json:"group_id"`
	Merchant     string              `json:"merchant"`
	Description  string              `json:"description"`
	Categories   []string            `json:"categories,omitempty"`
	Transactions []LedgerTransaction `json:"transactions,omitempty"`
}
