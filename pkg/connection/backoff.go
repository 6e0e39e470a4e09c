package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff defaults.
const (
	// InitialBackoff is the first retry delay.
	InitialBackoff = 500 * time.Millisecond

	// MaxBackoff caps the retry delay.
	MaxBackoff = 30 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of base delay.
	JitterFactor = 0.2
)

// BackoffConfig customizes backoff parameters. Zero values use the defaults
// above; a negative Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// DefaultBackoffConfig returns the default backoff parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	if c.Jitter == 0 {
		c.Jitter = JitterFactor
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	mu sync.Mutex

	config  BackoffConfig
	current time.Duration

	attempts int

	rng *rand.Rand
}

// NewBackoff creates a backoff calculator.
func NewBackoff(config BackoffConfig) *Backoff {
	config = config.withDefaults()
	return &Backoff{
		config:  config,
		current: config.Initial,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next backoff delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.config.Multiplier)
	if next > b.config.Max {
		next = b.config.Max
	}
	b.current = next

	return delay
}

// Reset returns to the initial delay. Call it after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base backoff (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// addJitter adds random jitter to a delay. Caller holds mu.
func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.config.Jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.config.Jitter*b.rng.Float64())
}

// Sequence returns the first n base delays (without jitter) for config.
func Sequence(config BackoffConfig, n int) []time.Duration {
	config = config.withDefaults()
	out := make([]time.Duration, 0, n)
	d := config.Initial
	for range n {
		out = append(out, d)
		d = time.Duration(float64(d) * config.Multiplier)
		if d > config.Max {
			d = config.Max
		}
	}
	return out
}
