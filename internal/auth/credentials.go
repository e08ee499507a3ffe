package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLen = 6

var ErrNoCredentials = errors.New("auth: no credentials for role")

// DefaultCredentials are the login emails used until a role's credentials are
// changed. Only the admin role has one.
var DefaultCredentials = map[Role]string{
	RoleAdmin: "admin@silo-monitor.local",
}

type Credential struct {
	Role      Role      `json:"role"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	Default   bool      `json:"default"`
}

// CredentialStore keeps per-role login emails and bcrypt password hashes, merged
// over DefaultCredentials.
type CredentialStore struct {
	db   *sql.DB
	cost int
	now  func() time.Time
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db, cost: bcrypt.DefaultCost, now: time.Now}
}

func (s *CredentialStore) Get(ctx context.Context, role Role) (Credential, error) {
	var (
		email     string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT email, updated_at FROM credentials WHERE role = ?`, string(role),
	).Scan(&email, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if def, ok := DefaultCredentials[role]; ok {
			return Credential{Role: role, Email: def, Default: true}, nil
		}
		return Credential{}, fmt.Errorf("%w: %s", ErrNoCredentials, role)
	}
	if err != nil {
		return Credential{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Credential{}, fmt.Errorf("credentials %s: %w", role, err)
	}
	return Credential{Role: role, Email: email, UpdatedAt: at}, nil
}

// Update replaces the credentials of role. The email must be non-empty and the
// password at least MinPasswordLen characters.
func (s *CredentialStore) Update(ctx context.Context, role Role, email, password string) (Credential, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return Credential{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return Credential{}, fmt.Errorf("%w: email cannot be empty", ErrInvalidCredentials)
	}
	if len(password) < MinPasswordLen {
		return Credential{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidCredentials, MinPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Credential{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (role, email, password_hash, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(role) DO UPDATE SET
			email = excluded.email,
			password_hash = excluded.password_hash,
			updated_at = excluded.updated_at`,
		string(role), email, string(hash), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Role: role, Email: email, UpdatedAt: now}, nil
}

// Reset drops every stored credential so the defaults apply again.
func (s *CredentialStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	return err
}
