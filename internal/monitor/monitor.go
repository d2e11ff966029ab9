// Package monitor polls the panel and tells users when the share link of
// one of their clients changes.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"

	"github.com/eliseohh/xuibot/internal/account"
)

const partialSaveTimeout = 5 * time.Second

// Notifier delivers one change to its user.
type Notifier interface {
	Notify(ctx context.Context, c account.Change) error
}

type SnapshotSource interface {
	Snapshot(ctx context.Context) (account.Snapshot, error)
}

type Fingerprinter interface {
	Fingerprint(ctx context.Context) (string, error)
}

// BaselineStore persists the baseline between runs.
type BaselineStore interface {
	Load(ctx context.Context) (account.Baseline, error)
	Save(ctx context.Context, b account.Baseline) error
}

type Config struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
	// NotifyRate caps outgoing notifications per second; zero means no cap.
	NotifyRate float64
}

// Status is what the health endpoint reports.
type Status struct {
	Running       bool      `json:"running"`
	LastPoll      time.Time `json:"last_poll"`
	LastError     string    `json:"last_error,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	TrackedUsers  int       `json:"tracked_users"`
	Notifications int64     `json:"notifications_sent"`
}

type Monitor struct {
	cfg      Config
	accounts SnapshotSource
	panel    Fingerprinter
	store    BaselineStore
	notifier Notifier
	limiter  *rate.Limiter
	log      *slog.Logger

	// owned by the polling goroutine
	baseline        account.Baseline
	lastFingerprint string

	mu     sync.RWMutex
	status Status
}

// New builds a monitor. store may be nil, in which case the baseline only
// lives in memory.
func New(
	cfg Config,
	accounts SnapshotSource,
	panel Fingerprinter,
	store BaselineStore,
	notifier Notifier,
	log *slog.Logger,
) *Monitor {
	limit := rate.Inf
	if cfg.NotifyRate > 0 {
		limit = rate.Limit(cfg.NotifyRate)
	}
	return &Monitor{
		cfg:      cfg,
		accounts: accounts,
		panel:    panel,
		store:    store,
		notifier: notifier,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log,
	}
}

// Status returns a copy of the current status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Init sets the baseline: the stored one when it is not empty, otherwise
// the panel's current state, so nobody is notified at startup.
func (m *Monitor) Init(ctx context.Context) error {
	if m.store != nil {
		b, err := m.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load baseline: %w", err)
		}
		if len(b) > 0 {
			m.baseline = b
			m.log.InfoContext(ctx, "loaded stored baseline", "users", len(b))
			m.setTracked(len(b))
			return nil
		}
	}

	snap, err := m.accounts.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read initial snapshot: %w", err)
	}
	m.baseline = snap.Baseline()
	m.setTracked(len(m.baseline))

	if m.store != nil {
		if err := m.store.Save(ctx, m.baseline); err != nil {
			return fmt.Errorf("failed to store baseline: %w", err)
		}
	}
	m.log.InfoContext(ctx, "baseline taken from panel", "users", len(m.baseline))
	return nil
}

// Poll runs one check: when the panel changed since the last successful
// poll, every new or changed link is sent to its user and becomes the new
// baseline.
func (m *Monitor) Poll(ctx context.Context) error {
	err := m.poll(ctx)

	m.mu.Lock()
	m.status.LastPoll = time.Now()
	if err != nil {
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
	}
	m.mu.Unlock()

	return err
}

func (m *Monitor) poll(ctx context.Context) error {
	fp, err := m.panel.Fingerprint(ctx)
	if err != nil {
		return err
	}
	if fp == m.lastFingerprint {
		return nil
	}

	snap, err := m.accounts.Snapshot(ctx)
	if err != nil {
		return err
	}

	changes := account.Changes(m.baseline, snap)
	users := map[int64]struct{}{}
	for _, c := range changes {
		if err := m.limiter.Wait(ctx); err != nil {
			m.savePartial(ctx)
			return err
		}
		if err := m.notifier.Notify(ctx, c); err != nil {
			m.log.ErrorContext(
				ctx, "failed to send notification",
				"tg_id", c.TgID, "email", c.Email, tint.Err(err),
			)
			continue
		}
		m.markSent(c)
		users[c.TgID] = struct{}{}
		m.mu.Lock()
		m.status.Notifications++
		m.mu.Unlock()
		m.log.InfoContext(ctx, "sent config update", "tg_id", c.TgID, "email", c.Email)
	}
	if len(changes) > 0 {
		m.log.InfoContext(ctx, "config changes detected", "users", len(users), "changes", len(changes))
	}

	// the in-memory baseline moves on even if persisting it fails, so the
	// same change is not announced twice
	m.baseline = snap.Baseline()
	m.setTracked(len(m.baseline))
	if m.store != nil {
		if err := m.store.Save(ctx, m.baseline); err != nil {
			return fmt.Errorf("failed to store baseline: %w", err)
		}
	}

	m.lastFingerprint = fp
	m.mu.Lock()
	m.status.Fingerprint = fp
	m.mu.Unlock()
	return nil
}

// Run initialises the baseline and polls until ctx is done. Errors are
// logged and retried after the backoff; Run itself only returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)

	m.log.InfoContext(ctx, "starting panel monitor", "interval", m.cfg.Interval)

	for {
		err := m.Init(ctx)
		if err == nil {
			break
		}
		m.log.ErrorContext(ctx, "monitor init failed", tint.Err(err))
		m.recordError(err)
		if !sleep(ctx, m.cfg.ErrorBackoff) {
			return nil
		}
	}

	wait := m.cfg.Interval
	for {
		if !sleep(ctx, wait) {
			m.log.InfoContext(ctx, "panel monitor stopped")
			return nil
		}
		if err := m.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			m.log.ErrorContext(ctx, "monitor poll failed", tint.Err(err))
			wait = m.cfg.ErrorBackoff
			continue
		}
		wait = m.cfg.Interval
	}
}

// markSent moves the baseline for one entry as soon as it was delivered.
func (m *Monitor) markSent(c account.Change) {
	if m.baseline == nil {
		m.baseline = account.Baseline{}
	}
	if m.baseline[c.TgID] == nil {
		m.baseline[c.TgID] = map[string]string{}
	}
	m.baseline[c.TgID][c.Email] = c.Hash
}

// savePartial stores the baseline of an interrupted batch so the entries
// already delivered are not sent again after a restart.
func (m *Monitor) savePartial(ctx context.Context) {
	if m.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), partialSaveTimeout)
	defer cancel()
	if err := m.store.Save(saveCtx, m.baseline); err != nil {
		m.log.ErrorContext(ctx, "failed to store partial baseline", tint.Err(err))
	}
}

func (m *Monitor) setRunning(v bool) {
	m.mu.Lock()
	m.status.Running = v
	m.mu.Unlock()
}

func (m *Monitor) setTracked(n int) {
	m.mu.Lock()
	m.status.TrackedUsers = n
	m.mu.Unlock()
}

func (m *Monitor) recordError(err error) {
	m.mu.Lock()
	m.status.LastPoll = time.Now()
	m.status.LastError = err.Error()
	m.mu.Unlock()
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
