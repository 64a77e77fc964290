package models

import "time"

// DeviceRecord is stored under device:{deviceID}. UsageCount only grows and
// LinkedIdentity is written at most once.
type DeviceRecord struct {
	ID             string    `json:"id"`
	UsageCount     int       `json:"usage_count"`
	LinkedIdentity *string   `json:"linked_identity,omitempty"`
	Source         string    `json:"source,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsedAt     time.Time `json:"last_used_at"`
}

func (d *DeviceRecord) Linked() bool {
	return d.LinkedIdentity != nil && *d.LinkedIdentity != ""
}
