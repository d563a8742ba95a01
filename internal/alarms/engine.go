package alarms

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portenta/image-processing-ioc/internal/config"
	"github.com/portenta/image-processing-ioc/internal/pv"
)

const (
	defaultCooldown = 15 * time.Minute
	defaultSeverity = "minor"
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alarm is one firing or resolved alarm.
type Alarm struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	PV         string     `json:"pv"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine evaluates rules against PV records. Safe for concurrent use.
type Engine struct {
	prefix string
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	rules    []rule
	webhooks []config.WebhookConfig
	active   map[string]*Alarm    // key: rule name
	lastFire map[string]time.Time // for cooldown
	history  []*Alarm
	wg       sync.WaitGroup
}

// New creates an Engine. Rule conditions name PVs without prefix.
// Rules that fail to parse are logged and ignored.
func New(cfg config.AlarmsConfig, prefix string) *Engine {
	e := &Engine{
		prefix:   prefix,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alarm),
		lastFire: make(map[string]time.Time),
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig replaces rules and webhooks. Active alarms whose rule no longer
// exists are dropped without notification.
func (e *Engine) SetConfig(cfg config.AlarmsConfig) {
	rules := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		pr, err := parseRule(r, e.prefix)
		if err != nil {
			slog.Warn("alarms: ignoring rule", "rule", r.Name, "err", err)
			continue
		}
		rules = append(rules, pr)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)
	keep := make(map[string]bool, len(rules))
	for _, r := range rules {
		keep[r.Name] = true
	}
	for k := range e.active {
		if !keep[k] {
			delete(e.active, k)
		}
	}
}

// Evaluate tests every rule watching rec. Non-numeric records are ignored.
// Webhook delivery happens in the background.
func (e *Engine) Evaluate(rec pv.Record) {
	v, ok := rec.Float()
	if !ok {
		return
	}
	now := e.now()

	e.mu.Lock()
	var notify []Alarm
	for _, r := range e.rules {
		if r.pv != rec.Name {
			continue
		}
		if compareFloat(v, r.op, r.threshold) {
			if a, ok := e.fire(r, v, now); ok {
				notify = append(notify, a)
			}
		} else if a, ok := e.resolve(r, now); ok {
			notify = append(notify, a)
		}
	}
	webhooks := e.webhooks
	e.mu.Unlock()

	for i := range notify {
		a := notify[i]
		if a.State == "firing" {
			slog.Warn("alarms: alarm fired", "rule", a.RuleName, "pv", a.PV, "value", a.Value, "severity", a.Severity)
		} else {
			slog.Info("alarms: alarm resolved", "rule", a.RuleName, "pv", a.PV)
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.deliver(webhooks, &a)
		}()
	}
}

// fire must be called with e.mu held.
func (e *Engine) fire(r rule, v float64, now time.Time) (Alarm, bool) {
	cooldown := r.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if last, ok := e.lastFire[r.Name]; ok && now.Sub(last) <= cooldown {
		return Alarm{}, false
	}
	sev := r.Severity
	if sev == "" {
		sev = defaultSeverity
	}
	a := &Alarm{
		ID:       uuid.NewString(),
		RuleName: r.Name,
		PV:       r.pv,
		Severity: sev,
		Value:    v,
		Message:  fmt.Sprintf("[%s] %s fired: %s (value %g)", sev, r.Name, r.Condition, v),
		FiredAt:  now,
		State:    "firing",
	}
	e.active[r.Name] = a
	e.lastFire[r.Name] = now
	return *a, true
}

// resolve must be called with e.mu held.
func (e *Engine) resolve(r rule, now time.Time) (Alarm, bool) {
	a, ok := e.active[r.Name]
	if !ok {
		return Alarm{}, false
	}
	resolved := now
	a.State = "resolved"
	a.ResolvedAt = &resolved
	delete(e.active, r.Name)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	return *a, true
}

// Active returns copies of all firing alarms plus alarms resolved within the
// past hour, newest first.
func (e *Engine) Active() []*Alarm {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alarm, 0, len(e.active))
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

// Run evaluates every record committed to db until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, db *pv.DB) {
	updates, cancel := db.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-updates:
			if !ok {
				return
			}
			e.Evaluate(rec)
		}
	}
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() { e.wg.Wait() }
