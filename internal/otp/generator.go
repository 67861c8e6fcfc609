// Package otp genera los codigos de un solo uso del flujo de reseteo.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const nonceSize = 16

var ErrSecretRequired = errors.New("otp secret is required")

// Code es un OTP emitido junto con su vencimiento absoluto.
type Code struct {
	Value     string
	ExpiresAt time.Time
}

// Generator deriva codigos de 6 digitos a partir de un secreto compartido.
//
// Cada codigo es un HOTP (HMAC-SHA256 truncado modulo 10^6) cuyo contador es el
// timestamp en milisegundos y cuya clave se deriva del secreto, el sujeto y un
// nonce aleatorio. Dos pedidos en el mismo milisegundo no comparten codigo.
type Generator struct {
	secret []byte
	now    func() time.Time
	rand   io.Reader
}

func NewGenerator(secret string) (*Generator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	return &Generator{
		secret: []byte(secret),
		now:    time.Now,
		rand:   rand.Reader,
	}, nil
}

// Generate emite un codigo para subject valido durante interval.
func (g *Generator) Generate(subject string, interval time.Duration) (Code, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(g.rand, nonce); err != nil {
		return Code{}, fmt.Errorf("otp nonce: %w", err)
	}

	now := g.now().UTC()
	value, err := hotp.GenerateCodeCustom(g.deriveKey(subject, nonce), uint64(now.UnixMilli()), hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA256,
	})
	if err != nil {
		return Code{}, fmt.Errorf("otp derive: %w", err)
	}

	return Code{Value: value, ExpiresAt: now.Add(interval)}, nil
}

func (g *Generator) deriveKey(subject string, nonce []byte) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(subject))
	mac.Write([]byte{0})
	mac.Write(nonce)
	return base32.StdEncoding.EncodeToString(mac.Sum(nil))
}

// IsWellFormed reporta si code tiene la forma de un OTP: 6 digitos ASCII.
func IsWellFormed(code string) bool {
	if len(code) != int(otp.DigitsSix) {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Equal compara dos codigos en tiempo constante.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
