// Package entitlement decides whether a billable request may proceed and
// commits exactly one unit of allowance when it succeeds.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/auth"
	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/blagoySimandov/transcriptmagic/internal/transcript"
	"github.com/google/uuid"
)

// FreeLimit is both the anonymous per-device allowance and the ceiling for
// the unused-portion grant made when a device is linked to an account.
const FreeLimit = 10

type Mode string

const (
	ModeAuthenticated Mode = "authenticated"
	ModeAnonymous     Mode = "anonymous"
)

type Request struct {
	Credential auth.Credential
	DeviceID   string
	Source     string
}

type Decision struct {
	Mode            Mode
	AccountID       string
	DeviceID        string
	Source          string
	Identity        *models.Identity
	RemainingBefore int64
}

// Outcome of Execute. Committed is false whenever the fetch failed; Remaining
// is then the pre-request allowance. CommitErr is set when the fetch
// succeeded but recording the unit failed; the result is still served.
type Outcome struct {
	Decision  *Decision
	Result    transcript.Result
	Committed bool
	Remaining int64
	CommitErr error
}

type Gate struct {
	verifier auth.Verifier
	ledger   *ledger.Ledger
	now      func() time.Time
}

func NewGate(verifier auth.Verifier, l *ledger.Ledger) *Gate {
	return &Gate{
		verifier: verifier,
		ledger:   l,
		now:      time.Now,
	}
}

// NormalizeDeviceID accepts only the canonical 36 character UUID form and
// returns it lower-cased.
func NormalizeDeviceID(deviceID string) (string, error) {
	if len(deviceID) != 36 {
		return "", ErrInvalidDevice
	}
	id, err := uuid.Parse(deviceID)
	if err != nil || !strings.EqualFold(id.String(), deviceID) {
		return "", ErrInvalidDevice
	}
	return id.String(), nil
}

func (g *Gate) Authorize(ctx context.Context, req Request) (*Decision, error) {
	if !req.Credential.Empty() {
		return g.authorizeAccount(ctx, req)
	}
	return g.authorizeDevice(ctx, req)
}

func (g *Gate) authorizeAccount(ctx context.Context, req Request) (*Decision, error) {
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

	if account.Credits <= 0 {
		return nil, &DeniedError{Reason: ErrNoCredits, Credits: 0}
	}

	return &Decision{
		Mode:            ModeAuthenticated,
		AccountID:       identity.ID,
		Identity:        identity,
		Source:          req.Source,
		RemainingBefore: account.Credits,
	}, nil
}

func (g *Gate) authorizeDevice(ctx context.Context, req Request) (*Decision, error) {
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

	remaining := int64(FreeLimit - usage)
	if remaining <= 0 {
		return nil, &DeniedError{Reason: ErrLimitReached, Remaining: 0, RequiresSignup: true}
	}

	return &Decision{
		Mode:            ModeAnonymous,
		DeviceID:        deviceID,
		Source:          req.Source,
		RemainingBefore: remaining,
	}, nil
}

// Consume commits one unit of allowance for an authorized decision and
// returns the allowance left. It writes nothing once ctx is done.
func (g *Gate) Consume(ctx context.Context, d *Decision) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := g.now()

	switch d.Mode {
	case ModeAuthenticated:
		account, err := g.ledger.UpdateAccount(ctx, d.AccountID, func(a *models.AccountRecord, found bool) error {
			if !found {
				return ErrAccountNotFound
			}
			a.Credits = max(0, a.Credits-1)
			a.LastConsumedAt = &now
			a.UpdatedAt = now
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to consume credit for %s: %w", d.AccountID, err)
		}
		return account.Credits, nil

	case ModeAnonymous:
		device, err := g.ledger.UpdateDevice(ctx, d.DeviceID, func(dev *models.DeviceRecord, found bool) error {
			if !found {
				dev.CreatedAt = now
			}
			if dev.Source == "" {
				dev.Source = d.Source
			}
			dev.UsageCount++
			dev.LastUsedAt = now
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to record usage for device %s: %w", d.DeviceID, err)
		}
		return int64(max(0, FreeLimit-device.UsageCount)), nil
	}

	return 0, fmt.Errorf("unknown entitlement mode %q", d.Mode)
}

// Execute authorizes req, runs fetch, and commits only when fetch returned a
// successful result and the caller is still waiting for it.
func (g *Gate) Execute(ctx context.Context, req Request, fetch func(ctx context.Context) transcript.Result) (*Outcome, error) {
	decision, err := g.Authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Decision:  decision,
		Result:    fetch(ctx),
		Remaining: decision.RemainingBefore,
	}
	if !out.Result.OK() {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	remaining, err := g.Consume(ctx, decision)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		out.CommitErr = err
		return out, nil
	}
	out.Committed = true
	out.Remaining = remaining
	return out, nil
}
