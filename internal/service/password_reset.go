package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"main-stack/internal/domain"
	"main-stack/internal/otp"
	"main-stack/internal/repository"
)

var (
	ErrOTPNotFound             = errors.New("otp not found or expired")
	ErrNotificationUnavailable = errors.New("notification queue unavailable")
)

const resetEmailSubject = "Reset Password"

// OTPGenerator emite codigos de un solo uso.
type OTPGenerator interface {
	Generate(subject string, interval time.Duration) (otp.Code, error)
}

// JobQueue encola trabajos asincronicos.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}

// SessionRevoker cierra las sesiones abiertas de un usuario.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID string) (int, error)
}

// PasswordResetService orquesta el pedido y la verificacion de OTPs de reseteo.
// El envio del correo lo hace el worker a partir del job encolado.
type PasswordResetService struct {
	logger  *zap.Logger
	users   repository.UserRepository
	otps    OTPGenerator
	queue   JobQueue
	limiter OTPRateLimiter
	revoker SessionRevoker
	ttl     time.Duration
	now     func() time.Time
}

func NewPasswordResetService(
	logger *zap.Logger,
	users repository.UserRepository,
	otps OTPGenerator,
	queue JobQueue,
	limiter OTPRateLimiter,
	revoker SessionRevoker,
	ttl time.Duration,
) *PasswordResetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PasswordResetService{
		logger:  logger,
		users:   users,
		otps:    otps,
		queue:   queue,
		limiter: limiter,
		revoker: revoker,
		ttl:     ttl,
		now:     time.Now,
	}
}

// RequestReset genera un OTP nuevo para el usuario, lo persiste y encola el
// correo. Un OTP previo queda reemplazado.
func (s *PasswordResetService) RequestReset(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if !isValidEmail(emailAddr) {
		return ErrInvalidEmail
	}
	if s.limiter != nil && !s.limiter.Allow(emailAddr) {
		return ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}

	code, err := s.otps.Generate(user.ID, s.ttl)
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	if err := s.users.SetResetOTP(ctx, user.ID, domain.ResetOTP{Code: code.Value, ExpiresAt: code.ExpiresAt}); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	jobID, err := s.queue.Enqueue(ctx, domain.JobSendResetEmail, domain.MailPayload{
		To:      user.Email,
		Subject: resetEmailSubject,
		Text:    fmt.Sprintf("Your password reset OTP: %s. OTP expires in %d mins", code.Value, s.ttlMinutes()),
	})
	if err != nil {
		s.logger.Warn("enqueue reset email failed", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrNotificationUnavailable, err)
	}

	s.logger.Info("password reset requested", zap.String("user_id", user.ID), zap.String("job_id", jobID))
	return nil
}

// VerifyReset valida code contra el OTP activo y lo consume si coincide.
func (s *PasswordResetService) VerifyReset(ctx context.Context, emailAddr, code string) error {
	user, err := s.checkCode(ctx, emailAddr, code)
	if err != nil {
		return err
	}

	ok, err := s.users.ConsumeResetOTP(ctx, user.ID, user.ResetOTP.Code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOTPNotFound
	}
	s.logger.Info("password reset otp verified", zap.String("user_id", user.ID))
	return nil
}

// ResetPassword consume el OTP y cambia la contrasena en una sola escritura.
// Despues cierra las sesiones abiertas del usuario.
func (s *PasswordResetService) ResetPassword(ctx context.Context, emailAddr, code, newPassword string) error {
	if n := utf8.RuneCountInString(newPassword); n < minPasswordLen || n > maxPasswordLen {
		return ErrInvalidPassword
	}
	user, err := s.checkCode(ctx, emailAddr, code)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	ok, err := s.users.ResetPassword(ctx, user.ID, user.ResetOTP.Code, string(hash))
	if err != nil {
		return err
	}
	if !ok {
		return ErrOTPNotFound
	}

	closed := 0
	if s.revoker != nil {
		closed, err = s.revoker.RevokeUser(ctx, user.ID)
		if err != nil {
			// la contrasena ya cambio; las sesiones vencen solas
			s.logger.Warn("revoke sessions after reset failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	s.logger.Info("password reset", zap.String("user_id", user.ID), zap.Int("sessions_closed", closed))
	return nil
}

// checkCode devuelve el usuario si code coincide con su OTP vigente.
func (s *PasswordResetService) checkCode(ctx context.Context, emailAddr, code string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	if !isValidEmail(emailAddr) {
		return domain.User{}, ErrInvalidEmail
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}

	stored := user.ResetOTP
	if stored == nil {
		return domain.User{}, ErrOTPNotFound
	}
	code = strings.TrimSpace(code)
	if !otp.IsWellFormed(code) || !otp.Equal(stored.Code, code) {
		return domain.User{}, ErrOTPInvalid
	}
	if stored.Expired(s.now()) {
		return domain.User{}, ErrOTPExpired
	}
	return user, nil
}

func (s *PasswordResetService) ttlMinutes() int {
	m := int(s.ttl / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
