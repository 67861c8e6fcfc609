package queue

import "time"

// Backoff calcula la espera exponencial entre reintentos: Base * 2^(attempt-1),
// acotada por Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay devuelve la espera antes del intento siguiente a attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	limit := b.Max
	if limit < base {
		limit = base
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// Schedule devuelve las esperas tras cada intento hasta alcanzar Max
// inclusive. Los intentos posteriores reutilizan el ultimo valor.
func (b Backoff) Schedule() []time.Duration {
	var out []time.Duration
	for attempt := 1; ; attempt++ {
		d := b.Delay(attempt)
		out = append(out, d)
		if len(out) > 1 && d == out[len(out)-2] {
			return out[:len(out)-1]
		}
		if attempt >= 64 {
			return out
		}
	}
}
