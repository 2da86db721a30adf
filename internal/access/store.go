package access

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes RFID tags from keypad PINs.
type Kind string

// Credential kinds.
const (
	KindRFID Kind = "rfid"
	KindPIN  Kind = "pin"
)

// Credential is a stored credential without its secret.
type Credential struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Label      string     `json:"label"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Store keeps credentials in the credentials table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Add hashes secret and stores it.
//
// Parameters:
//   - kind: KindRFID or KindPIN
//   - label: Who or what holds it ("kitchen keyfob")
//   - secret: Tag ID or PIN in clear; only the hash is kept
//
// Returns:
//   - Credential: The stored credential
//   - error: ErrInvalidKind, ErrEmptySecret or a database error
func (s *Store) Add(ctx context.Context, kind Kind, label, secret string) (Credential, error) {
	if kind != KindRFID && kind != KindPIN {
		return Credential{}, ErrInvalidKind
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Credential{}, ErrEmptySecret
	}

	hash, err := HashSecret(secret)
	if err != nil {
		return Credential{}, err
	}

	c := Credential{
		ID:        uuid.NewString(),
		Kind:      kind,
		Label:     label,
		Enabled:   true,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, kind, label, secret_hash, enabled, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		c.ID, string(c.Kind), c.Label, hash, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Credential{}, fmt.Errorf("inserting credential: %w", err)
	}
	return c, nil
}

// Remove deletes a credential.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return expectOne(res)
}

// SetEnabled enables or disables a credential without deleting it.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE credentials SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// List returns all credentials ordered by label.
func (s *Store) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, label, enabled, created_at, last_used_at FROM credentials ORDER BY label, id")
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var kind, created string
		var enabled int
		var lastUsed sql.NullString
		if err := rows.Scan(&c.ID, &kind, &c.Label, &enabled, &created, &lastUsed); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		c.Kind = Kind(kind)
		c.Enabled = enabled == 1
		c.CreatedAt, _ = time.Parse(time.RFC3339, created) //nolint:errcheck // written by Add
		if lastUsed.Valid {
			if t, err := time.Parse(time.RFC3339, lastUsed.String); err == nil {
				c.LastUsedAt = &t
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Verify reports whether credential matches any enabled entry, and
// stamps last_used_at on a match. It implements the rule engine's
// CredentialChecker.
func (s *Store) Verify(ctx context.Context, credential string) (bool, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return false, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, secret_hash FROM credentials WHERE enabled = 1")
	if err != nil {
		return false, fmt.Errorf("querying credentials: %w", err)
	}
	type stored struct{ id, hash string }
	var candidates []stored
	for rows.Next() {
		var c stored
		if err := rows.Scan(&c.id, &c.hash); err != nil {
			rows.Close()
			return false, fmt.Errorf("scanning credential: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	// Release the connection before hashing; with one pooled connection
	// the stamp below would otherwise wait on the open cursor.
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := VerifySecret(credential, c.hash)
		if err != nil || !ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "UPDATE credentials SET last_used_at = ? WHERE id = ?",
			s.now().UTC().Format(time.RFC3339), c.id); err != nil {
			return true, fmt.Errorf("stamping credential use: %w", err)
		}
		return true, nil
	}
	return false, nil
}
