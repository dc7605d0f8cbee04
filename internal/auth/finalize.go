package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justestif/go-spotify-listen-logger/internal/secrets"
	"github.com/justestif/go-spotify-listen-logger/internal/state"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// ErrAccountBound is returned when the account is already bound to a
// different enabled tenant.
var ErrAccountBound = errors.New("account already connected to another tenant")

// Directory is the slice of the registry the connect flow needs.
type Directory interface {
	FindByAccount(ctx context.Context, accountID string) (string, error)
	Upsert(ctx context.Context, tenantID string, enabled bool, accountID *string) error
}

// VerifyAccountFree checks that accountID may be bound to tenantID,
// returning ErrAccountBound when another tenant already owns it.
// Connect surfaces call this before touching any tenant state, so a
// refused connect leaves the tenant exactly as it was. The check is a
// non-atomic check-then-act; concurrent connects for the same account can
// race, which is an accepted operational limitation.
func VerifyAccountFree(ctx context.Context, dir Directory, tenantID, accountID string) error {
	owner, err := dir.FindByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("checking account binding: %w", err)
	}
	if owner != "" && owner != tenantID {
		return fmt.Errorf("%w: account %s belongs to tenant %s", ErrAccountBound, accountID, owner)
	}
	return nil
}

// Finalize persists a successful exchange: it enforces the
// one-account-per-tenant rule, seals the refresh token into the tenant's
// state, and enables the tenant in the registry.
func Finalize(ctx context.Context, store tabular.Store, dir Directory, sealKey []byte, tenantID, accountID, refreshToken string) error {
	if err := VerifyAccountFree(ctx, dir, tenantID, accountID); err != nil {
		return err
	}

	sealed, err := secrets.Seal(sealKey, refreshToken)
	if err != nil {
		return fmt.Errorf("sealing refresh token: %w", err)
	}

	coll, err := store.Open(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("opening tenant collection: %w", err)
	}
	st := state.New(coll)

	cur, err := st.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading tenant state: %w", err)
	}
	kv := map[string]string{
		state.KeyEnabled:         state.FormatBool(true),
		state.KeyAccountID:       accountID,
		state.KeyRefreshTokenEnc: sealed,
		state.KeyLastError:       "",
	}
	if cur[state.KeyCreatedAt] == "" {
		kv[state.KeyCreatedAt] = time.Now().UTC().Format(time.RFC3339)
	}
	if cur[state.KeyTimezone] == "" {
		kv[state.KeyTimezone] = "UTC"
	}
	if err := st.Write(ctx, kv); err != nil {
		return fmt.Errorf("writing tenant state: %w", err)
	}

	if err := dir.Upsert(ctx, tenantID, true, &accountID); err != nil {
		return fmt.Errorf("registering tenant: %w", err)
	}
	return nil
}
