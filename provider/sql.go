package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bigtreetc/tokenauth"
	"github.com/bigtreetc/tokenauth/password"
	"github.com/bigtreetc/tokenauth/provider/migrations"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	// RolePrefix is prepended to role codes when they are granted as authorities.
	RolePrefix = "ROLE_"
)

// ErrStaffExists is returned by CreateStaff when the email is taken.
var ErrStaffExists = errors.New("staff already exists")

// Staff is the input to [SQLProvider.CreateStaff].
type Staff struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Roles     []string
}

// SQLProvider authenticates staff accounts stored in the staffs,
// staff_roles and role_permissions tables. Staff log in with their email.
//
// The granted authorities are ROLE_<code> for every assigned role plus every
// enabled permission code reachable through those roles.
type SQLProvider struct {
	db     *sql.DB
	driver string
	hasher password.Hasher
	logger zerolog.Logger
}

// OpenSQL opens dsn with driver ("sqlite3" or "pgx") and checks the connection.
func OpenSQL(ctx context.Context, driver, dsn string, logger zerolog.Logger) (*SQLProvider, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	p, err := NewSQL(db, driver, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewSQL wraps an open database handle.
func NewSQL(db *sql.DB, driver string, logger zerolog.Logger) (*SQLProvider, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	hasher, err := password.NewArgon2(password.DefaultArgon2Config())
	if err != nil {
		return nil, err
	}

	return &SQLProvider{
		db:     db,
		driver: driver,
		hasher: hasher,
		logger: logger.With().Str("component", "sql_provider").Logger(),
	}, nil
}

// DB returns the underlying handle.
func (p *SQLProvider) DB() *sql.DB {
	return p.db
}

func (p *SQLProvider) Close() error {
	return p.db.Close()
}

// Migrate applies the embedded schema migrations.
func (p *SQLProvider) Migrate(ctx context.Context) error {
	dialect := goose.DialectSQLite3
	if p.driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}

	migrator, err := goose.NewProvider(dialect, p.db, migrations.FS)
	if err != nil {
		return fmt.Errorf("migration setup error: %w", err)
	}

	results, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	for _, r := range results {
		p.logger.Info().Int64("version", r.Source.Version).Dur("took", r.Duration).Msg("migration applied")
	}
	return nil
}

// Authenticate implements [tokenauth.AuthenticationProvider].
func (p *SQLProvider) Authenticate(ctx context.Context, username, pw string) (tokenauth.Identity, error) {
	var (
		staffID string
		hash    string
	)
	err := p.db.QueryRowContext(ctx,
		p.rebind(`SELECT staff_id, password FROM staffs WHERE email = ?`),
		username,
	).Scan(&staffID, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			burnVerify(pw)
			return tokenauth.Identity{}, tokenauth.ErrBadCredentials
		}
		return tokenauth.Identity{}, fmt.Errorf("error performing sql request: %v", err)
	}

	ok, err := password.Verify(pw, hash)
	if err != nil {
		p.logger.Error().Err(err).Str("staff_id", staffID).Msg("stored password hash unusable")
		return tokenauth.Identity{}, tokenauth.ErrBadCredentials
	}
	if !ok {
		return tokenauth.Identity{}, tokenauth.ErrBadCredentials
	}

	authorities, err := p.authorities(ctx, staffID)
	if err != nil {
		return tokenauth.Identity{}, err
	}

	return tokenauth.Identity{Username: username, Roles: authorities}, nil
}

func (p *SQLProvider) authorities(ctx context.Context, staffID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, p.rebind(`
		SELECT sr.role_code, rp.permission_code
		FROM staff_roles sr
		LEFT JOIN role_permissions rp
		  ON rp.role_code = sr.role_code AND rp.is_enabled = ?
		WHERE sr.staff_id = ?`),
		true, staffID,
	)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	set := map[string]struct{}{}
	for rows.Next() {
		var (
			role       string
			permission sql.NullString
		)
		if err := rows.Scan(&role, &permission); err != nil {
			return nil, err
		}
		set[RolePrefix+role] = struct{}{}
		if permission.Valid && permission.String != "" {
			set[permission.String] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

// LookupProfile implements [tokenauth.ProfileLookup].
func (p *SQLProvider) LookupProfile(ctx context.Context, username string) (tokenauth.Profile, error) {
	var first, last string
	err := p.db.QueryRowContext(ctx,
		p.rebind(`SELECT first_name, last_name FROM staffs WHERE email = ?`),
		username,
	).Scan(&first, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tokenauth.Profile{Username: username}, nil
		}
		return tokenauth.Profile{}, fmt.Errorf("error performing sql request: %v", err)
	}

	return tokenauth.Profile{
		Username:    username,
		DisplayName: strings.TrimSpace(last + " " + first),
		Email:       username,
	}, nil
}

// CreateStaff inserts a staff account with its roles and returns the new id.
// The password is hashed with argon2id unless it is already an encoded hash.
func (p *SQLProvider) CreateStaff(ctx context.Context, s Staff) (string, error) {
	if s.Email == "" || s.Password == "" {
		return "", errors.New("email and password are required")
	}

	hash := s.Password
	if !password.Supported(hash) {
		var err error
		if hash, err = p.hasher.Hash(s.Password); err != nil {
			return "", err
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, p.rebind(`SELECT COUNT(*) FROM staffs WHERE email = ?`), s.Email).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("error performing sql request: %v", err)
	}
	if exists > 0 {
		return "", ErrStaffExists
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		p.rebind(`INSERT INTO staffs (staff_id, email, password, first_name, last_name) VALUES (?, ?, ?, ?, ?)`),
		id, s.Email, hash, s.FirstName, s.LastName,
	)
	if err != nil {
		return "", fmt.Errorf("error performing sql request: %v", err)
	}

	for _, role := range s.Roles {
		_, err = tx.ExecContext(ctx,
			p.rebind(`INSERT INTO staff_roles (staff_id, role_code) VALUES (?, ?)`),
			id, role,
		)
		if err != nil {
			return "", fmt.Errorf("error performing sql request: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// GrantPermissions enables permissions for role. Existing grants are re-enabled.
func (p *SQLProvider) GrantPermissions(ctx context.Context, role string, permissions ...string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, perm := range permissions {
		_, err := tx.ExecContext(ctx,
			p.rebind(`DELETE FROM role_permissions WHERE role_code = ? AND permission_code = ?`),
			role, perm,
		)
		if err != nil {
			return fmt.Errorf("error performing sql request: %v", err)
		}
		_, err = tx.ExecContext(ctx,
			p.rebind(`INSERT INTO role_permissions (role_code, permission_code, is_enabled) VALUES (?, ?, ?)`),
			role, perm, true,
		)
		if err != nil {
			return fmt.Errorf("error performing sql request: %v", err)
		}
	}

	return tx.Commit()
}

// DisablePermission keeps the grant row but stops it from being issued.
func (p *SQLProvider) DisablePermission(ctx context.Context, role, permission string) error {
	_, err := p.db.ExecContext(ctx,
		p.rebind(`UPDATE role_permissions SET is_enabled = ? WHERE role_code = ? AND permission_code = ?`),
		false, role, permission,
	)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

// rebind rewrites '?' placeholders to $n for PostgreSQL.
func (p *SQLProvider) rebind(query string) string {
	if p.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
