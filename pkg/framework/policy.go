package framework

import (
	"time"

	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

// OnError defines the retry and continuation policy applied to a failing
// unit (hook, step action, scenario). The unit is run retries+1 times with a
// fixed delay between attempts; after exhaustion the error is either
// swallowed (status ERROR, sibling work continues) or propagated.
type OnError struct {
	Retries           int     `yaml:"retries" validate:"gte=0"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds" validate:"gte=0"`
	Continue          bool    `yaml:"continue"`
}

// RetryDelay returns the configured delay between attempts.
func (p OnError) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds * float64(time.Second))
}

// RunWithPolicy executes fn under the policy. On swallow, the error and an
// ERROR status are recorded on ctx (when non-nil) and nil is returned so the
// caller proceeds with sibling work.
func RunWithPolicy(ctx Context, logger *telemetry.Logger, policy OnError, fn func() error) error {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	var err error
	for attempt := 0; attempt <= policy.Retries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt < policy.Retries {
			logger.Warnf("[attempt %d] retrying after error: %v", attempt+1, err)
			time.Sleep(policy.RetryDelay())
		}
	}
	if policy.Continue {
		logger.Warnf("continuing after failure: %v", err)
		if ctx != nil {
			ctx.SetStatus(StatusError)
			ctx.SetErr(err)
		}
		return nil
	}
	return err
}
