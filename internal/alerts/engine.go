package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicetest/dltcos/internal/config"
	"github.com/devicetest/dltcos/internal/pipeline"
)

const (
	maxHistoryLen = 200
	recentWindow  = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	CellID     string     `json:"cell_id"`
	Week       string     `json:"week"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond Condition
}

// Engine evaluates alert rules against the latest week of each processed
// report and delivers webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []rule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "ruleName:cellID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	client *http.Client
	now    func() time.Time
	// deliverFn is swapped in tests to observe deliveries synchronously.
	deliverFn func(*Alert)
}

// New creates an Engine from the alert configuration. It fails if any rule
// condition cannot be parsed. An Engine without rules is valid; Evaluate is
// then a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.deliverFn = func(a *Alert) { go e.deliver(a) }
	if err := e.SetConfig(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// SetConfig replaces the rules and webhooks. Firing alerts whose rule no
// longer exists stay active until the next Evaluate of their cell.
func (e *Engine) SetConfig(cfg config.AlertsConfig) error {
	rules := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		c, err := ParseCondition(r.Condition)
		if err != nil {
			return fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Cooldown <= 0 {
			r.Cooldown = config.DefaultCooldown
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
	return nil
}

// Evaluate tests every rule against the latest week of rep.
// Alerts that fire are stored and delivered; alerts that were firing but
// whose condition no longer holds are resolved.
func (e *Engine) Evaluate(rep *pipeline.Report) {
	latest, ok := rep.Latest()
	if !ok {
		return
	}
	week := latest.Label().String()

	e.mu.Lock()
	now := e.now()
	var outbox []*Alert
	seen := make(map[string]bool, len(e.rules))

	for _, r := range e.rules {
		key := r.Name + ":" + rep.CellID
		seen[key] = true
		fires, value := r.cond.Eval(latest)

		if fires {
			if _, firing := e.active[key]; firing {
				e.active[key].Value = value
				continue
			}
			if now.Sub(e.lastFire[key]) <= r.Cooldown {
				continue
			}
			a := &Alert{
				ID:       uuid.NewString(),
				RuleName: r.Name,
				CellID:   rep.CellID,
				Week:     week,
				Severity: r.Severity,
				Value:    value,
				Message: fmt.Sprintf("[%s] %s fired on %s week %s: %s (value %g)",
					r.Severity, r.Name, rep.CellID, week, r.cond, value),
				FiredAt: now,
				State:   StateFiring,
			}
			e.active[key] = a
			e.lastFire[key] = now
			cp := *a
			outbox = append(outbox, &cp)

			slog.Warn("alerts: fired",
				"rule", r.Name,
				"cell", rep.CellID,
				"week", week,
				"value", value,
				"severity", r.Severity,
			)
			continue
		}

		if a, firing := e.active[key]; firing {
			outbox = append(outbox, e.resolveLocked(key, a, now))
			slog.Info("alerts: resolved", "rule", r.Name, "cell", rep.CellID, "week", week)
		}
	}

	// Rules removed by SetConfig resolve on the next report for their cell.
	for key, a := range e.active {
		if a.CellID == rep.CellID && !seen[key] {
			outbox = append(outbox, e.resolveLocked(key, a, now))
		}
	}
	deliver := e.deliverFn
	e.mu.Unlock()

	for _, a := range outbox {
		deliver(a)
	}
}

func (e *Engine) resolveLocked(key string, a *Alert, now time.Time) *Alert {
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	return &cp
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// FiringCount returns the number of currently firing alerts.
func (e *Engine) FiringCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
