package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"main-stack/internal/domain"
)

// ErrDuplicate indica que se violo una restriccion unique.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByUsername(ctx context.Context, username string) (domain.User, error)
	// SetResetOTP reemplaza el OTP activo.
	SetResetOTP(ctx context.Context, userID string, otp domain.ResetOTP) error
	// ConsumeResetOTP borra el OTP solo si sigue siendo code. Devuelve false
	// si otro request ya lo consumio o lo reemplazo.
	ConsumeResetOTP(ctx context.Context, userID, code string) (bool, error)
	// ResetPassword cambia el hash y borra el OTP en una sola escritura,
	// siempre que el OTP activo siga siendo code.
	ResetPassword(ctx context.Context, userID, code, passwordHash string) (bool, error)
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, username, email, password_hash, reset_otp_code, reset_otp_expires_at, created_at, updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return translateErr(err)
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *PgUserRepository) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PgUserRepository) SetResetOTP(ctx context.Context, userID string, otp domain.ResetOTP) error {
	const query = `
		UPDATE users
		SET reset_otp_code = $2, reset_otp_expires_at = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, userID, otp.Code, otp.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgUserRepository) ResetPassword(ctx context.Context, userID, code, passwordHash string) (bool, error) {
	const query = `
		UPDATE users
		SET password_hash = $3, reset_otp_code = NULL, reset_otp_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND reset_otp_code = $2
	`
	tag, err := r.pool.Exec(ctx, query, userID, code, passwordHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgUserRepository) ConsumeResetOTP(ctx context.Context, userID, code string) (bool, error) {
	const query = `
		UPDATE users
		SET reset_otp_code = NULL, reset_otp_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND reset_otp_code = $2
	`
	tag, err := r.pool.Exec(ctx, query, userID, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgUserRepository) getOne(ctx context.Context, query string, arg string) (domain.User, error) {
	var (
		u         domain.User
		code      *string
		expiresAt *time.Time
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&code,
		&expiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	if code != nil && expiresAt != nil {
		u.ResetOTP = &domain.ResetOTP{Code: *code, ExpiresAt: *expiresAt}
	}
	return u, nil
}

func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
