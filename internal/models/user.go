package models

import (
	"slices"
	"time"
)

type Plan string

const (
	PlanFree Plan = "free"
	PlanPaid Plan = "paid"
)

// Identity is the stable external identity returned by the identity provider.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"picture,omitempty"`
}

// AccountRecord is stored under user:{identityID}.
type AccountRecord struct {
	Identity          Identity   `json:"identity"`
	Credits           int64      `json:"credits"`
	Plan              Plan       `json:"plan"`
	LinkedDevices     []string   `json:"linked_devices"`
	BillingCustomerID *string    `json:"billing_customer_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	LastConsumedAt    *time.Time `json:"last_consumed_at,omitempty"`
	LastPurchaseAt    *time.Time `json:"last_purchase_at,omitempty"`
}

func (a *AccountRecord) HasDevice(deviceID string) bool {
	return slices.Contains(a.LinkedDevices, deviceID)
}

func (a *AccountRecord) AddDevice(deviceID string) {
	if !a.HasDevice(deviceID) {
		a.LinkedDevices = append(a.LinkedDevices, deviceID)
	}
}
