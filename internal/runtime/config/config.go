package config

import (
	"errors"
	"fmt"
	"strings"

	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
	payloadpkg "github.com/drblury/safetynet/internal/runtime/payload"
)

// FailBehavior selects what happens once a message exhausts its retries.
type FailBehavior string

const (
	// FailBehaviorError fails the invocation with a TooManyRetriesError.
	FailBehaviorError FailBehavior = "error"
	// FailBehaviorRepublish publishes the payload to the error topic first.
	FailBehaviorRepublish FailBehavior = "republish"
)

// Defaults applied by Default.
const (
	DefaultMaxRetries   = 3
	DefaultAttemptsKey  = payloadpkg.DefaultAttemptsKey
	DefaultFailBehavior = FailBehaviorError
	DefaultErrorTopic   = "safetynet-errors"
)

// ParseFailBehavior validates a fail behaviour name. Matching is exact.
func ParseFailBehavior(value string) (FailBehavior, error) {
	switch FailBehavior(value) {
	case FailBehaviorError, FailBehaviorRepublish:
		return FailBehavior(value), nil
	}
	return "", &errspkg.ConfigurationError{
		Field: "failBehavior",
		Value: value,
		Err:   errors.New("must be one of 'error' or 'republish'"),
	}
}

// Config controls the retry decorator. A Catcher keeps its own copy, so the
// value is effectively immutable once the Catcher is built.
type Config struct {
	// MaxRetries is the number of redeliveries allowed before the overflow
	// policy applies.
	MaxRetries int
	// AttemptsKey names the payload field that carries the attempt counter.
	AttemptsKey string
	// FailBehavior is applied when the counter exceeds MaxRetries.
	FailBehavior FailBehavior
	// ErrorTopic receives exhausted payloads when FailBehavior is republish.
	ErrorTopic string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		MaxRetries:   DefaultMaxRetries,
		AttemptsKey:  DefaultAttemptsKey,
		FailBehavior: DefaultFailBehavior,
		ErrorTopic:   DefaultErrorTopic,
	}
}

// Options overrides individual Config fields. nil fields keep the current
// value.
type Options struct {
	Retries      *int
	AttemptsKey  *string
	FailBehavior *string
	ErrorTopic   *string
}

// Apply merges opts into a copy of c. An unknown FailBehavior yields a
// *errors.ConfigurationError and leaves c untouched.
func (c Config) Apply(opts Options) (Config, error) {
	if opts.FailBehavior != nil {
		behavior, err := ParseFailBehavior(*opts.FailBehavior)
		if err != nil {
			return c, err
		}
		c.FailBehavior = behavior
	}
	if opts.Retries != nil {
		c.MaxRetries = *opts.Retries
	}
	if opts.AttemptsKey != nil {
		c.AttemptsKey = *opts.AttemptsKey
	}
	if opts.ErrorTopic != nil {
		c.ErrorTopic = *opts.ErrorTopic
	}
	return c, nil
}

// Validate reports every field that would make the decorator misbehave.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("retries: cannot be negative"))
	}
	if strings.TrimSpace(c.AttemptsKey) == "" {
		errs = append(errs, errors.New("attemptsKey: cannot be empty"))
	}
	if _, err := ParseFailBehavior(string(c.FailBehavior)); err != nil {
		errs = append(errs, err)
	}
	if c.FailBehavior == FailBehaviorRepublish && strings.TrimSpace(c.ErrorTopic) == "" {
		errs = append(errs, errors.New("errorTopic: required when failBehavior is republish"))
	}
	return errors.Join(errs...)
}

func (c Config) String() string {
	return fmt.Sprintf("{MaxRetries:%d AttemptsKey:%s FailBehavior:%s ErrorTopic:%s}",
		c.MaxRetries, c.AttemptsKey, c.FailBehavior, c.ErrorTopic)
}

// Ptr returns a pointer to v, for filling Options.
func Ptr[T any](v T) *T {
	return &v
}
