package entitlement

import (
	"context"
	"errors"

	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
)

// Entitlement is the read-only allowance view served by /entitlement.
type Entitlement struct {
	Authenticated  bool
	Credits        int64
	Plan           models.Plan
	RequiresSignup bool
}

func (g *Gate) Snapshot(ctx context.Context, req Request) (*Entitlement, error) {
	if !req.Credential.Empty() {
		identity, err := g.verifier.Verify(ctx, req.Credential)
		if err != nil {
			return nil, err
		}
		account, err := g.ledger.GetAccount(ctx, identity.ID)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		return &Entitlement{
			Authenticated: true,
			Credits:       max(0, account.Credits),
			Plan:          account.Plan,
		}, nil
	}

	deviceID, err := NormalizeDeviceID(req.DeviceID)
	if err != nil {
		return nil, err
	}

	usage := 0
	device, err := g.ledger.GetDevice(ctx, deviceID)
	switch {
	case err == nil:
		usage = device.UsageCount
	case !errors.Is(err, ledger.ErrDeviceNotFound):
		return nil, err
	}

	remaining := int64(max(0, FreeLimit-usage))
	return &Entitlement{
		Credits:        remaining,
		RequiresSignup: remaining == 0,
	}, nil
}
