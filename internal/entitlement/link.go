package entitlement

import (
	"context"
	"fmt"

	"github.com/blagoySimandov/transcriptmagic/internal/auth"
	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/logger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
)

// SignIn verifies cred, creates or refreshes the account and, when deviceID is
// given, links the device to it.
//
// The device is claimed first under its own key: the first identity to claim
// a device receives its unused free allowance and every later claim is a
// no-op. A new account without a device gets FreeLimit once.
func (g *Gate) SignIn(ctx context.Context, cred auth.Credential, deviceID, source string) (*models.AccountRecord, error) {
	if deviceID != "" {
		normalized, err := NormalizeDeviceID(deviceID)
		if err != nil {
			return nil, err
		}
		deviceID = normalized
	}

	identity, err := g.verifier.Verify(ctx, cred)
	if err != nil {
		return nil, err
	}
	now := g.now()

	var (
		claimed     bool
		linkedToUs  bool
		deviceGrant int64
	)
	if deviceID != "" {
		_, err := g.ledger.UpdateDevice(ctx, deviceID, func(d *models.DeviceRecord, found bool) error {
			claimed, linkedToUs, deviceGrant = false, false, 0
			if d.Linked() {
				linkedToUs = *d.LinkedIdentity == identity.ID
				return ledger.ErrSkip
			}
			if !found {
				d.CreatedAt = now
				d.LastUsedAt = now
				d.Source = source
			}
			id := identity.ID
			d.LinkedIdentity = &id
			deviceGrant = int64(max(0, FreeLimit-d.UsageCount))
			claimed = true
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to claim device %s: %w", deviceID, err)
		}
	}

	var created bool
	account, err := g.ledger.UpdateAccount(ctx, identity.ID, func(a *models.AccountRecord, found bool) error {
		created = !found
		if !found {
			a.Plan = models.PlanFree
			a.CreatedAt = now
			a.LinkedDevices = []string{}
			if deviceID == "" {
				a.Credits = FreeLimit
			}
		}
		a.Identity = *identity
		a.LastLoginAt = &now
		a.UpdatedAt = now

		if claimed {
			a.Credits += deviceGrant
		}
		if claimed || linkedToUs {
			a.AddDevice(deviceID)
		}
		return nil
	})
	if err != nil {
		if claimed {
			logger.Log.Error("device claimed but account grant failed",
				"device_id", deviceID, "identity_id", identity.ID, "credits", deviceGrant, "error", err)
		}
		return nil, fmt.Errorf("failed to update account %s: %w", identity.ID, err)
	}

	if err := g.ledger.IndexEmail(ctx, identity.Email, identity.ID); err != nil {
		logger.Log.Warn("failed to index account email", "identity_id", identity.ID, "error", err)
	}

	if claimed {
		logger.Log.Info("device linked",
			"device_id", deviceID, "identity_id", identity.ID, "credits_granted", deviceGrant, "new_account", created)
	}
	return account, nil
}
