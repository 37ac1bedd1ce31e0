package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dogwalking/auth-service/internal/models"
)

// ItemStore is the persistence contract for encrypted items. The pgx
// implementation lives in internal/repositories.
type ItemStore interface {
	Upsert(ctx context.Context, item *models.VaultItem) (*models.VaultItem, error)
	Get(ctx context.Context, ref string) (*models.VaultItem, error)
	Delete(ctx context.Context, ref string) error
	ListRefsNotAtVersion(ctx context.Context, version int) ([]string, error)
	// ReplaceCiphertext swaps an item's ciphertext in a single atomic update,
	// guarded by the version the caller read. Returns false when the guard
	// missed (the item was re-encrypted concurrently).
	ReplaceCiphertext(ctx context.Context, ref string, fromVersion int, ciphertext, nonce []byte, toVersion int) (bool, error)
}

// EventRecorder receives security events; satisfied by the audit service.
type EventRecorder interface {
	Record(ctx context.Context, principalID *string, kind string, detail models.EventDetail, ipAddress *string)
}

// Vault is the encrypted at-rest store for secrets: MFA seeds and any other
// material the core must persist. Callers hold only opaque refs; plaintext
// exists in memory just long enough to use it.
type Vault struct {
	ring   *KeyRing
	store  ItemStore
	events EventRecorder
	logger *slog.Logger
}

func New(ring *KeyRing, store ItemStore, events EventRecorder, logger *slog.Logger) *Vault {
	return &Vault{
		ring:   ring,
		store:  store,
		events: events,
		logger: logger,
	}
}

// Put encrypts plaintext under the active key and upserts it at ref.
func (v *Vault) Put(ctx context.Context, ref string, plaintext []byte) (*models.VaultItem, error) {
	ciphertext, nonce, version, err := v.ring.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt vault item: %w", err)
	}

	item, err := v.store.Upsert(ctx, &models.VaultItem{
		Ref:        ref,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		KeyVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store vault item: %w", err)
	}

	return item, nil
}

// Get decrypts the item at ref using the key its row names. Decrypt
// failures are surfaced, not retried, and each one is audited.
func (v *Vault) Get(ctx context.Context, ref string) ([]byte, error) {
	item, err := v.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	plaintext, err := v.ring.Decrypt(item.KeyVersion, item.Ciphertext, item.Nonce)
	if err != nil {
		v.logger.Error("vault item decrypt failed",
			slog.String("ref", ref),
			slog.Int("key_version", item.KeyVersion),
			slog.Any("error", err))
		v.events.Record(ctx, nil, models.EventVaultDecryptFailure, models.EventDetail{
			"ref":         ref,
			"key_version": item.KeyVersion,
		}, nil)
		return nil, err
	}

	return plaintext, nil
}

// Delete purges the item at ref. Missing refs are not an error for the
// caller's cleanup paths.
func (v *Vault) Delete(ctx context.Context, ref string) error {
	if err := v.store.Delete(ctx, ref); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete vault item: %w", err)
	}
	return nil
}

// Rotate re-encrypts every item not yet under the active key. Each item is
// swapped with a single atomic guarded update, so ordinary Get/Put traffic
// may run concurrently and a crash mid-pass leaves every item readable.
// One corrupt item does not block rotation of the rest: it is audited,
// counted, and skipped.
func (v *Vault) Rotate(ctx context.Context) (*models.RotationReport, error) {
	report := &models.RotationReport{
		ActiveVersion: v.ring.ActiveVersion(),
		StartedAt:     time.Now(),
	}

	refs, err := v.store.ListRefsNotAtVersion(ctx, v.ring.ActiveVersion())
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate vault items for rotation: %w", err)
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Scanned++

		if err := v.rotateItem(ctx, ref); err != nil {
			if errors.Is(err, errRotateSkipped) {
				report.Skipped++
				continue
			}
			report.Failed++
			report.FailedRefs = append(report.FailedRefs, ref)
			v.logger.Error("vault item rotation failed",
				slog.String("ref", ref),
				slog.Any("error", err))
			v.events.Record(ctx, nil, models.EventVaultRotationFailure, models.EventDetail{
				"ref":   ref,
				"error": err.Error(),
			}, nil)
			continue
		}
		report.Rotated++
	}

	report.FinishedAt = time.Now()

	v.logger.Info("vault rotation completed",
		slog.Int("active_version", report.ActiveVersion),
		slog.Int("scanned", report.Scanned),
		slog.Int("rotated", report.Rotated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed))
	v.events.Record(ctx, nil, models.EventVaultRotated, models.EventDetail{
		"active_version": report.ActiveVersion,
		"scanned":        report.Scanned,
		"rotated":        report.Rotated,
		"skipped":        report.Skipped,
		"failed":         report.Failed,
	}, nil)

	return report, nil
}

// errRotateSkipped marks an item another writer re-encrypted mid-pass.
var errRotateSkipped = errors.New("item re-encrypted concurrently")

func (v *Vault) rotateItem(ctx context.Context, ref string) error {
	item, err := v.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Deleted since enumeration; nothing to rotate.
			return errRotateSkipped
		}
		return err
	}
	if item.KeyVersion == v.ring.ActiveVersion() {
		return errRotateSkipped
	}

	plaintext, err := v.ring.Decrypt(item.KeyVersion, item.Ciphertext, item.Nonce)
	if err != nil {
		return err
	}

	ciphertext, nonce, version, err := v.ring.Encrypt(plaintext)
	if err != nil {
		return err
	}

	swapped, err := v.store.ReplaceCiphertext(ctx, ref, item.KeyVersion, ciphertext, nonce, version)
	if err != nil {
		return err
	}
	if !swapped {
		return errRotateSkipped
	}

	return nil
}
