// Package budget caps the generation tokens the agent may spend per day.
package budget

import (
	"sort"
	"sync"
	"time"
)

type Config struct {
	// DailyLimit of zero or less disables the cap; usage is still counted.
	DailyLimit int
	// WarnAt is the fraction of DailyLimit that triggers the warning
	// callback once per day.
	WarnAt   float64
	Timezone *time.Location
}

type ModelUsage struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	Turns        int    `json:"turns"`
}

type Snapshot struct {
	Day    string       `json:"day"`
	Used   int          `json:"used"`
	Limit  int          `json:"limit"`
	Models []ModelUsage `json:"models"`
}

type Tracker struct {
	mu         sync.Mutex
	cfg        Config
	day        string
	tokens     int
	models     map[string]*ModelUsage
	warnSent   bool
	onWarn     func(used, limit int)
	onExceeded func(used, limit int)
	now        func() time.Time
}

func NewTracker(cfg Config, onWarn, onExceeded func(used, limit int)) *Tracker {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.WarnAt <= 0 || cfg.WarnAt > 1 {
		cfg.WarnAt = 0.8
	}

	return &Tracker{
		cfg:        cfg,
		models:     make(map[string]*ModelUsage),
		onWarn:     onWarn,
		onExceeded: onExceeded,
		now:        time.Now,
	}
}

// Allow reports whether another turn may start today.
func (t *Tracker) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()
	return t.cfg.DailyLimit <= 0 || t.tokens < t.cfg.DailyLimit
}

// Record adds one turn's usage and reports whether the day's budget still
// has room.
func (t *Tracker) Record(provider, model string, inputTokens, outputTokens int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()

	key := provider + "/" + model
	mu, ok := t.models[key]
	if !ok {
		mu = &ModelUsage{Provider: provider, Model: model}
		t.models[key] = mu
	}
	mu.InputTokens += inputTokens
	mu.OutputTokens += outputTokens
	mu.Turns++

	t.tokens += inputTokens + outputTokens

	limit := t.cfg.DailyLimit
	if limit <= 0 {
		return true
	}

	if t.tokens >= limit {
		if t.onExceeded != nil {
			t.onExceeded(t.tokens, limit)
		}
		return false
	}

	if !t.warnSent && float64(t.tokens) >= float64(limit)*t.cfg.WarnAt {
		t.warnSent = true
		if t.onWarn != nil {
			t.onWarn(t.tokens, limit)
		}
	}

	return true
}

func (t *Tracker) Usage() (used, limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()
	return t.tokens, t.cfg.DailyLimit
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()

	s := Snapshot{Day: t.day, Used: t.tokens, Limit: t.cfg.DailyLimit}
	for _, mu := range t.models {
		s.Models = append(s.Models, *mu)
	}
	sort.Slice(s.Models, func(i, j int) bool {
		if s.Models[i].Provider != s.Models[j].Provider {
			return s.Models[i].Provider < s.Models[j].Provider
		}
		return s.Models[i].Model < s.Models[j].Model
	})

	return s
}

// must hold lock
func (t *Tracker) checkReset() {
	day := t.now().In(t.cfg.Timezone).Format("2006-01-02")
	if day != t.day {
		t.day = day
		t.tokens = 0
		t.warnSent = false
		t.models = make(map[string]*ModelUsage)
	}
}
