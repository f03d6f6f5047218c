package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stashfi/starmf/pkg/database"
)

// Repository loads and stores advisor gateway credentials. Secrets are
// encrypted before insert and decrypted on read.
type Repository struct {
	db     *database.DB
	cipher *Cipher
}

// NewRepository creates a credentials repository.
func NewRepository(db *database.DB, cipher *Cipher) *Repository {
	return &Repository{db: db, cipher: cipher}
}

// Get returns the decrypted credentials for an advisor. Returns
// ErrNotConfigured when the advisor has no credentials on file.
func (r *Repository) Get(ctx context.Context, advisorID string) (Credentials, error) {
	query := `
		SELECT advisor_id, member_id, user_id, euin, password_enc, passkey_enc
		FROM exchange.advisor_credentials
		WHERE advisor_id = $1
	`

	var creds Credentials
	var passwordEnc, passkeyEnc string

	err := r.db.Pool.QueryRow(ctx, query, advisorID).Scan(
		&creds.AdvisorID,
		&creds.MemberID,
		&creds.UserID,
		&creds.EUIN,
		&passwordEnc,
		&passkeyEnc,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, ErrNotConfigured
		}
		return Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds.Password, err = r.cipher.Decrypt(passwordEnc); err != nil {
		return Credentials{}, fmt.Errorf("failed to decrypt password for advisor %s: %w", advisorID, err)
	}
	if creds.PassKey, err = r.cipher.Decrypt(passkeyEnc); err != nil {
		return Credentials{}, fmt.Errorf("failed to decrypt passkey for advisor %s: %w", advisorID, err)
	}

	return creds, nil
}

// Upsert stores or replaces an advisor's credentials.
func (r *Repository) Upsert(ctx context.Context, creds Credentials) error {
	passwordEnc, err := r.cipher.Encrypt(creds.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	passkeyEnc, err := r.cipher.Encrypt(creds.PassKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt passkey: %w", err)
	}

	query := `
		INSERT INTO exchange.advisor_credentials (advisor_id, member_id, user_id, euin, password_enc, passkey_enc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (advisor_id) DO UPDATE SET
			member_id = EXCLUDED.member_id,
			user_id = EXCLUDED.user_id,
			euin = EXCLUDED.euin,
			password_enc = EXCLUDED.password_enc,
			passkey_enc = EXCLUDED.passkey_enc,
			updated_at = NOW()
	`

	if _, err := r.db.Pool.Exec(ctx, query,
		creds.AdvisorID, creds.MemberID, creds.UserID, creds.EUIN, passwordEnc, passkeyEnc,
	); err != nil {
		return fmt.Errorf("failed to upsert credentials: %w", err)
	}

	return nil
}

// Delete removes an advisor's credentials.
func (r *Repository) Delete(ctx context.Context, advisorID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM exchange.advisor_credentials WHERE advisor_id = $1`, advisorID)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// ListAdvisorIDs returns every advisor with credentials on file. Used by
// the session refresh job to know whose tokens to keep warm.
func (r *Repository) ListAdvisorIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT advisor_id FROM exchange.advisor_credentials ORDER BY advisor_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list advisors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan advisor id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
