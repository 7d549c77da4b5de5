package engine

import "time"

// Стратегии задержки.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy — политика повторов временных ошибок poll внутри одной итерации.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `yaml:"backoff" json:"backoff,omitempty"`

	// InitialDelay — начальная задержка.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay,omitempty"`

	// MaxDelay — максимальная задержка.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay,omitempty"`
}

// DefaultRetryPolicy — 3 попытки с экспоненциальной задержкой от 1s до 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Attempts возвращает количество попыток (минимум 1).
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay вычисляет задержку перед попыткой attempt+1 (attempt начинается с 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	initialDelay := p.InitialDelay
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initialDelay
	if p.Backoff == BackoffExponential {
		// delay = initialDelay * 2^(attempt-1)
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				break
			}
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
