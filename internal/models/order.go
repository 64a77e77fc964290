package models

import "time"

// ProcessedOrder marks a paid order whose credits were granted. Stored under
// order:{provider}:{orderID}.
type ProcessedOrder struct {
	Provider  string    `json:"provider"`
	OrderID   string    `json:"order_id"`
	AccountID string    `json:"account_id"`
	Credits   int64     `json:"credits"`
	AppliedAt time.Time `json:"applied_at"`
}
