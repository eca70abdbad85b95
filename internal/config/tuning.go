package config

import (
	"fmt"
	"time"
)

// EngineTuning overrides the suggestion engine's timing and breaker knobs.
// All durations are milliseconds in JSON. Omitted fields use the defaults
// listed per accessor.
type EngineTuning struct {
	DebounceMS          *int `json:"debounce_ms,omitempty"`
	SettleDelayMS       *int `json:"settle_delay_ms,omitempty"`
	ProbeDelayMS        *int `json:"probe_delay_ms,omitempty"`
	GenerationTimeoutMS *int `json:"generation_timeout_ms,omitempty"`

	AdapterFailureThreshold *int `json:"adapter_failure_threshold,omitempty"`

	CooldownWindowMS   *int `json:"cooldown_window_ms,omitempty"`
	CooldownThreshold  *int `json:"cooldown_threshold,omitempty"`
	CooldownDurationMS *int `json:"cooldown_duration_ms,omitempty"`
}

const (
	defaultDebounce          = 600 * time.Millisecond
	defaultSettleDelay       = 500 * time.Millisecond
	defaultProbeDelay        = 5 * time.Second
	defaultGenerationTimeout = 30 * time.Second

	defaultAdapterFailureThreshold = 3

	defaultCooldownWindow    = 2 * time.Minute
	defaultCooldownThreshold = 3
	defaultCooldownDuration  = time.Minute
)

func (t *EngineTuning) Validate() error {
	if t == nil {
		return nil
	}
	for name, v := range map[string]*int{
		"debounce_ms":               t.DebounceMS,
		"settle_delay_ms":           t.SettleDelayMS,
		"probe_delay_ms":            t.ProbeDelayMS,
		"generation_timeout_ms":     t.GenerationTimeoutMS,
		"adapter_failure_threshold": t.AdapterFailureThreshold,
		"cooldown_window_ms":        t.CooldownWindowMS,
		"cooldown_threshold":        t.CooldownThreshold,
		"cooldown_duration_ms":      t.CooldownDurationMS,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// EffectiveDebounce defaults to 600ms.
func (t *EngineTuning) EffectiveDebounce() time.Duration {
	if t == nil || t.DebounceMS == nil || *t.DebounceMS <= 0 {
		return defaultDebounce
	}
	return time.Duration(*t.DebounceMS) * time.Millisecond
}

// EffectiveSettleDelay defaults to 500ms.
func (t *EngineTuning) EffectiveSettleDelay() time.Duration {
	if t == nil || t.SettleDelayMS == nil || *t.SettleDelayMS <= 0 {
		return defaultSettleDelay
	}
	return time.Duration(*t.SettleDelayMS) * time.Millisecond
}

// EffectiveProbeDelay defaults to 5s.
func (t *EngineTuning) EffectiveProbeDelay() time.Duration {
	if t == nil || t.ProbeDelayMS == nil || *t.ProbeDelayMS <= 0 {
		return defaultProbeDelay
	}
	return time.Duration(*t.ProbeDelayMS) * time.Millisecond
}

// EffectiveGenerationTimeout defaults to 30s.
func (t *EngineTuning) EffectiveGenerationTimeout() time.Duration {
	if t == nil || t.GenerationTimeoutMS == nil || *t.GenerationTimeoutMS <= 0 {
		return defaultGenerationTimeout
	}
	return time.Duration(*t.GenerationTimeoutMS) * time.Millisecond
}

// EffectiveAdapterFailureThreshold defaults to 3 consecutive failures.
func (t *EngineTuning) EffectiveAdapterFailureThreshold() int {
	if t == nil || t.AdapterFailureThreshold == nil || *t.AdapterFailureThreshold <= 0 {
		return defaultAdapterFailureThreshold
	}
	return *t.AdapterFailureThreshold
}

// EffectiveCooldownWindow defaults to 2m.
func (t *EngineTuning) EffectiveCooldownWindow() time.Duration {
	if t == nil || t.CooldownWindowMS == nil || *t.CooldownWindowMS <= 0 {
		return defaultCooldownWindow
	}
	return time.Duration(*t.CooldownWindowMS) * time.Millisecond
}

// EffectiveCooldownThreshold defaults to 3 failures inside the window.
func (t *EngineTuning) EffectiveCooldownThreshold() int {
	if t == nil || t.CooldownThreshold == nil || *t.CooldownThreshold <= 0 {
		return defaultCooldownThreshold
	}
	return *t.CooldownThreshold
}

// EffectiveCooldownDuration defaults to 1m.
func (t *EngineTuning) EffectiveCooldownDuration() time.Duration {
	if t == nil || t.CooldownDurationMS == nil || *t.CooldownDurationMS <= 0 {
		return defaultCooldownDuration
	}
	return time.Duration(*t.CooldownDurationMS) * time.Millisecond
}

// HTTPTuning overrides the retrying HTTP client shared by provider calls.
type HTTPTuning struct {
	// MaxRetries is the retry count after the initial attempt. Defaults to 3.
	MaxRetries *int `json:"max_retries,omitempty"`
	// BaseDelayMS is the first backoff delay. Defaults to 500ms.
	BaseDelayMS *int `json:"base_delay_ms,omitempty"`
	// MaxDelayMS caps the computed backoff. Defaults to 10s.
	MaxDelayMS *int `json:"max_delay_ms,omitempty"`
	// RequestTimeoutMS bounds one request including retries. Defaults to 30s.
	RequestTimeoutMS *int `json:"request_timeout_ms,omitempty"`
}

func (t *HTTPTuning) Validate() error {
	if t == nil {
		return nil
	}
	if t.MaxRetries != nil && *t.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	for name, v := range map[string]*int{
		"base_delay_ms":      t.BaseDelayMS,
		"max_delay_ms":       t.MaxDelayMS,
		"request_timeout_ms": t.RequestTimeoutMS,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func (t *HTTPTuning) EffectiveMaxRetries() int {
	if t == nil || t.MaxRetries == nil || *t.MaxRetries < 0 {
		return 3
	}
	return *t.MaxRetries
}

func (t *HTTPTuning) EffectiveBaseDelay() time.Duration {
	if t == nil || t.BaseDelayMS == nil || *t.BaseDelayMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(*t.BaseDelayMS) * time.Millisecond
}

func (t *HTTPTuning) EffectiveMaxDelay() time.Duration {
	if t == nil || t.MaxDelayMS == nil || *t.MaxDelayMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(*t.MaxDelayMS) * time.Millisecond
}

func (t *HTTPTuning) EffectiveRequestTimeout() time.Duration {
	if t == nil || t.RequestTimeoutMS == nil || *t.RequestTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(*t.RequestTimeoutMS) * time.Millisecond
}
