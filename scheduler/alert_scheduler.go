package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"price_alert_backend/metrics"
	"price_alert_backend/models"
	"price_alert_backend/services"
)

// Evaluation outcomes, used as metric labels
const (
	outcomeWithin     = "within"
	outcomeNoPrice    = "no_price"
	outcomeBadPrice   = "bad_price"
	outcomeOverrun    = "overrun"
	outcomeTriggered  = "triggered"
	outcomeSuperseded = "superseded"
)

// ErrSchedulerStopped is returned by AddAlert once Stop has been called
var ErrSchedulerStopped = errors.New("alert scheduler stopped")

// PriceReader returns the current price, found == false when unknown
type PriceReader interface {
	CurrentPrice(ctx context.Context) (string, bool)
}

// Options tunes the alert scheduler
type Options struct {
	// Interval between two evaluations of one alert
	Interval time.Duration
	// Workers bounds the evaluations running at the same time
	Workers int
	// EvalTimeout bounds the price read of one evaluation
	EvalTimeout time.Duration
	// NotifyTimeout bounds the notification of a triggered alert
	NotifyTimeout time.Duration
	// ResumeOnStart reschedules the alerts found in the registry on Start
	ResumeOnStart bool
}

// DefaultOptions evaluate every alert each second on a pool of 10
func DefaultOptions() Options {
	return Options{
		Interval:      time.Second,
		Workers:       10,
		EvalTimeout:   5 * time.Second,
		NotifyTimeout: 10 * time.Second,
		ResumeOnStart: true,
	}
}

// AlertScheduler owns the active alerts and their recurring evaluation jobs.
// It is the only component that creates, replaces or cancels a job.
type AlertScheduler struct {
	cron   *gocron.Scheduler
	cronMu sync.Mutex // the gocron builder chain is not safe for concurrent use

	prices   PriceReader
	notifier services.Notifier
	registry services.AlertRegistry
	opts     Options
	logger   *zap.Logger

	mu    sync.Mutex
	tasks map[string]*alertTask
	locks *nameLocks

	ctx    context.Context
	cancel context.CancelFunc
}

// alertTask is the handle of one scheduled alert
type alertTask struct {
	alert     models.Alert
	job       *gocron.Job
	running   atomic.Bool
	cancelled atomic.Bool
}

// NewAlertScheduler creates a stopped scheduler
func NewAlertScheduler(prices PriceReader, notifier services.Notifier, registry services.AlertRegistry, opts Options, logger *zap.Logger) *AlertScheduler {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = def.EvalTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = def.NotifyTimeout
	}

	cron := gocron.NewScheduler(time.UTC)
	// Firings over the limit are skipped until their next slot, never queued
	cron.SetMaxConcurrentJobs(opts.Workers, gocron.RescheduleMode)

	ctx, cancel := context.WithCancel(context.Background())
	return &AlertScheduler{
		cron:     cron,
		prices:   prices,
		notifier: notifier,
		registry: registry,
		opts:     opts,
		logger:   logger.Named("scheduler"),
		tasks:    make(map[string]*alertTask),
		locks:    newNameLocks(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the job runner and, if configured, resumes persisted alerts
func (s *AlertScheduler) Start(ctx context.Context) error {
	s.cron.StartAsync()
	s.logger.Info("Alert scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.Int("workers", s.opts.Workers),
	)

	if !s.opts.ResumeOnStart {
		return nil
	}
	n, err := s.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume alerts: %w", err)
	}
	s.logger.Info("Resumed persisted alerts", zap.Int("count", n))
	return nil
}

// Stop cancels every job. Definitions stay in the registry.
func (s *AlertScheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	for _, t := range s.tasks {
		t.cancelled.Store(true)
	}
	s.tasks = make(map[string]*alertTask)
	metrics.ActiveAlerts.Set(0)
	s.mu.Unlock()

	s.cron.Stop()
	s.logger.Info("Alert scheduler stopped")
}

// Resume schedules every persisted alert that is not already scheduled
func (s *AlertScheduler) Resume(ctx context.Context) (int, error) {
	alerts, err := s.registry.List(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, a := range alerts {
		unlock := s.locks.lock(a.Name)
		if s.task(a.Name) == nil {
			if err := s.schedule(a); err != nil {
				s.logger.Error("Failed to resume alert", zap.String("name", a.Name), zap.Error(err))
			} else {
				resumed++
			}
		}
		unlock()
	}
	return resumed, nil
}

// AddAlert persists the alert and schedules it, replacing any live task with
// the same name. On a registry failure nothing changes.
func (s *AlertScheduler) AddAlert(ctx context.Context, alert models.Alert) error {
	unlock := s.locks.lock(alert.Name)
	defer unlock()

	if s.ctx.Err() != nil {
		return ErrSchedulerStopped
	}
	if err := s.registry.Save(ctx, alert); err != nil {
		return fmt.Errorf("save alert %q: %w", alert.Name, err)
	}

	if prev := s.task(alert.Name); prev != nil {
		s.detach(prev)
		s.logger.Info("Replacing alert", zap.String("name", alert.Name))
	}

	if err := s.schedule(alert); err != nil {
		// Keep the registry in step with the (now empty) schedule
		if derr := s.registry.Delete(ctx, alert.Name); derr != nil {
			s.logger.Error("Failed to roll back alert definition", zap.String("name", alert.Name), zap.Error(derr))
		}
		return fmt.Errorf("schedule alert %q: %w", alert.Name, err)
	}

	s.logger.Info("Alert scheduled",
		zap.String("name", alert.Name),
		zap.Float64("high", alert.HighThreshold),
		zap.Float64("low", alert.LowThreshold),
	)
	return nil
}

// RemoveAlert deletes the definition, then cancels the live task. Unknown
// names are a no-op. On a registry failure the task keeps running.
func (s *AlertScheduler) RemoveAlert(ctx context.Context, name string) error {
	unlock := s.locks.lock(name)
	defer unlock()

	if err := s.registry.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete alert %q: %w", name, err)
	}

	if t := s.task(name); t != nil {
		s.detach(t)
		s.logger.Info("Alert removed", zap.String("name", name))
	}
	return nil
}

// ListAlerts returns the scheduled alerts sorted by name
func (s *AlertScheduler) ListAlerts() []models.Alert {
	s.mu.Lock()
	alerts := make([]models.Alert, 0, len(s.tasks))
	for _, t := range s.tasks {
		alerts = append(alerts, t.alert)
	}
	s.mu.Unlock()

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Name < alerts[j].Name
	})
	return alerts
}

// IsScheduled reports whether name has a live task
func (s *AlertScheduler) IsScheduled(name string) bool {
	return s.task(name) != nil
}

func (s *AlertScheduler) task(name string) *alertTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[name]
}

// schedule creates the job for alert. Caller holds the name lock.
// Fails with ErrSchedulerStopped when Stop wins the race.
func (s *AlertScheduler) schedule(alert models.Alert) error {
	t := &alertTask{alert: alert}

	s.cronMu.Lock()
	job, err := s.cron.Every(s.opts.Interval).Tag(alert.Name).Do(func() {
		s.evaluate(t)
	})
	s.cronMu.Unlock()
	if err != nil {
		return err
	}
	t.job = job

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		t.cancelled.Store(true)
		s.cronMu.Lock()
		s.cron.RemoveByReference(job)
		s.cronMu.Unlock()
		return ErrSchedulerStopped
	}
	s.tasks[alert.Name] = t
	metrics.ActiveAlerts.Set(float64(len(s.tasks)))
	s.mu.Unlock()
	return nil
}

// detach cancels t and drops it from the map. Caller holds the name lock.
func (s *AlertScheduler) detach(t *alertTask) {
	t.cancelled.Store(true)

	s.cronMu.Lock()
	if t.job != nil {
		s.cron.RemoveByReference(t.job)
	}
	s.cronMu.Unlock()

	s.mu.Lock()
	if s.tasks[t.alert.Name] == t {
		delete(s.tasks, t.alert.Name)
	}
	metrics.ActiveAlerts.Set(float64(len(s.tasks)))
	s.mu.Unlock()
}

// evaluate is the job body. A firing that finds the previous one of the same
// alert still running is skipped.
func (s *AlertScheduler) evaluate(t *alertTask) {
	if t.cancelled.Load() {
		return
	}
	if !t.running.CompareAndSwap(false, true) {
		metrics.Evaluations.WithLabelValues(outcomeOverrun).Inc()
		return
	}
	defer t.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Alert evaluation panicked", zap.String("name", t.alert.Name), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.EvalTimeout)
	defer cancel()

	raw, ok := s.prices.CurrentPrice(ctx)
	if !ok {
		// Unknown price is not a breach
		metrics.Evaluations.WithLabelValues(outcomeNoPrice).Inc()
		s.logger.Debug("Price unavailable, skipping evaluation", zap.String("name", t.alert.Name))
		return
	}

	price, err := models.ParsePrice(raw)
	if err != nil {
		metrics.Evaluations.WithLabelValues(outcomeBadPrice).Inc()
		s.logger.Warn("Unparseable price, skipping evaluation", zap.String("price", raw), zap.Error(err))
		return
	}

	breach := t.alert.Check(price)
	if breach == models.BreachNone {
		metrics.Evaluations.WithLabelValues(outcomeWithin).Inc()
		return
	}
	s.trigger(t, breach, price)
}

// trigger notifies and removes a breached alert, unless the task was
// cancelled or replaced while the price was being read.
func (s *AlertScheduler) trigger(t *alertTask, breach models.Breach, price decimal.Decimal) {
	name := t.alert.Name
	unlock := s.locks.lock(name)
	defer unlock()

	if t.cancelled.Load() || s.task(name) != t {
		metrics.Evaluations.WithLabelValues(outcomeSuperseded).Inc()
		return
	}
	metrics.Evaluations.WithLabelValues(outcomeTriggered).Inc()

	message := t.alert.Message(breach, price)

	nctx, cancel := context.WithTimeout(s.ctx, s.opts.NotifyTimeout)
	err := s.notifier.Notify(nctx, message)
	cancel()
	if err != nil {
		s.logger.Warn("Alert notification failed", zap.String("name", name), zap.Error(err))
	}

	// The alert fired: it goes away even if the registry is unreachable
	rctx, rcancel := context.WithTimeout(s.ctx, s.opts.EvalTimeout)
	if err := s.registry.Delete(rctx, name); err != nil {
		s.logger.Error("Failed to delete triggered alert definition", zap.String("name", name), zap.Error(err))
	}
	rcancel()

	s.detach(t)
	s.logger.Info("Alert triggered",
		zap.String("name", name),
		zap.String("breach", breach.String()),
		zap.String("price", price.String()),
	)
}
