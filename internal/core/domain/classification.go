package domain

import "time"

// SourceDatabase tags classifications served from history instead of a provider.
const SourceDatabase = "database"

// HistoryEntry is one resolved classification. Entries are append-only.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Merchant    string    `json:"merchant"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// CategoryAggregate is the vote of matching history entries for one category.
type CategoryAggregate struct {
	Category      string  `json:"category"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"confidence"`
}

// HistoryStats summarizes the whole history.
type HistoryStats struct {
	Total      int                          `json:"total"`
	Categories map[string]CategoryAggregate `json:"categories"`
}

// Classification is the resolved category of a transaction.
type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Prompt     string  `json:"prompt,omitempty"`
	Response   string  `json:"response,omitempty"`
}
