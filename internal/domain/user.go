package domain

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	ResetOTP     *ResetOTP `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ResetOTP es el codigo de reseteo activo embebido en el usuario.
// Un usuario tiene a lo sumo uno; nil significa que no hay codigo vigente.
type ResetOTP struct {
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// Expired indica si el codigo vencio respecto de now.
func (o ResetOTP) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
