package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Scheduler defaults.
const (
	DefaultWindow       = 365 * day
	DefaultInterval     = time.Hour
	DefaultConcurrency  = 4
	DefaultRetryInitial = 30 * time.Second
	DefaultRetryMax     = 15 * time.Minute
)

// Channel binds a remote resource to the local item its history is kept in.
type Channel struct {
	ResourceID string `json:"resource_id"`
	Item       string `json:"item"`
}

// ChannelStatus is the last known synchronisation state of a channel.
type ChannelStatus struct {
	Channel
	RunID               string    `json:"run_id,omitempty"`
	Running             bool      `json:"running"`
	LastRun             time.Time `json:"last_run,omitzero"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastResult          *Result   `json:"last_result,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextRun             time.Time `json:"next_run,omitzero"`
}

// SchedulerOptions configures a Scheduler. Zero values take the defaults.
type SchedulerOptions struct {
	// Window is the trailing span kept complete, ending at the current time.
	Window time.Duration

	// Interval is the delay between regular runs of a channel.
	Interval time.Duration

	// Concurrency is the number of channels synchronised at the same time.
	Concurrency int

	// RetryInitial and RetryMax bound the exponential backoff applied after
	// communication errors. Retries never wait longer than Interval.
	RetryInitial time.Duration
	RetryMax     time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = DefaultRetryInitial
	}
	if o.RetryMax <= 0 {
		o.RetryMax = DefaultRetryMax
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Scheduler periodically synchronises a fixed set of channels.
//
// Each channel runs in its own loop. A run can be requested early with
// Trigger (coalesced) or executed synchronously with SyncNow. Runs of the
// same resource are serialised with the Executor's resource lock; at most
// Concurrency runs of different resources proceed at once.
//
// Thread Safety: All methods are safe for concurrent use.
type Scheduler struct {
	exec     *Executor
	opts     SchedulerOptions
	channels []Channel
	byID     map[string]Channel
	triggers map[string]chan struct{}
	slots    *semaphore.Weighted

	mu       sync.RWMutex
	statuses map[string]*ChannelStatus
	onStatus func(ChannelStatus)
	logger   Logger
}

// NewScheduler creates a scheduler for channels.
//
// Returns an error if a channel has an empty resource ID or item, or if a
// resource ID appears twice.
func NewScheduler(exec *Executor, channels []Channel, opts SchedulerOptions) (*Scheduler, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	opts = opts.withDefaults()

	s := &Scheduler{
		exec:     exec,
		opts:     opts,
		byID:     make(map[string]Channel, len(channels)),
		triggers: make(map[string]chan struct{}, len(channels)),
		slots:    semaphore.NewWeighted(int64(opts.Concurrency)),
		statuses: make(map[string]*ChannelStatus, len(channels)),
		logger:   noopLogger{},
	}

	for _, ch := range channels {
		if ch.ResourceID == "" || ch.Item == "" {
			return nil, fmt.Errorf("channel %+v: resource_id and item are required", ch)
		}
		if _, dup := s.byID[ch.ResourceID]; dup {
			return nil, fmt.Errorf("channel %s: duplicate resource_id", ch.ResourceID)
		}
		s.channels = append(s.channels, ch)
		s.byID[ch.ResourceID] = ch
		s.triggers[ch.ResourceID] = make(chan struct{}, 1)
		s.statuses[ch.ResourceID] = &ChannelStatus{Channel: ch}
	}

	return s, nil
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnStatus sets a callback invoked after every status change.
// The callback runs on the channel's goroutine and must not block for long.
func (s *Scheduler) SetOnStatus(callback func(ChannelStatus)) {
	s.mu.Lock()
	s.onStatus = callback
	s.mu.Unlock()
}

// Channels returns the configured channels in configuration order.
func (s *Scheduler) Channels() []Channel {
	out := make([]Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Run synchronises every channel immediately and then on its interval until
// ctx is cancelled. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range s.channels {
		g.Go(func() error {
			s.loop(gctx, ch)
			return nil
		})
	}
	return g.Wait()
}

// Trigger requests an early run of resourceID. Requests made while a run is
// pending are coalesced.
func (s *Scheduler) Trigger(resourceID string) error {
	trigger, ok := s.triggers[resourceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, resourceID)
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
	return nil
}

// SyncNow synchronises resourceID on the calling goroutine.
// It waits for any run of the same resource already in progress.
func (s *Scheduler) SyncNow(ctx context.Context, resourceID string) (Result, error) {
	ch, ok := s.byID[resourceID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownResource, resourceID)
	}
	return s.runOnce(ctx, ch)
}

// Status returns the status of resourceID.
func (s *Scheduler) Status(resourceID string) (ChannelStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[resourceID]
	if !ok {
		return ChannelStatus{}, fmt.Errorf("%w: %s", ErrUnknownResource, resourceID)
	}
	return *st, nil
}

// Statuses returns the status of every channel in configuration order.
func (s *Scheduler) Statuses() []ChannelStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChannelStatus, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, *s.statuses[ch.ResourceID])
	}
	return out
}

// loop runs one channel until ctx is done.
func (s *Scheduler) loop(ctx context.Context, ch Channel) {
	retry := s.newBackOff()
	trigger := s.triggers[ch.ResourceID]

	for {
		_, err := s.runOnce(ctx, ch)
		if ctx.Err() != nil {
			return
		}

		delay := s.nextDelay(err, retry)
		s.updateStatus(ch.ResourceID, func(st *ChannelStatus) {
			st.NextRun = s.opts.Now().Add(delay)
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-trigger:
			timer.Stop()
		}
	}
}

// nextDelay picks the wait before the next run of a channel.
func (s *Scheduler) nextDelay(err error, retry *backoff.ExponentialBackOff) time.Duration {
	delay := s.opts.Interval
	switch {
	case err == nil:
		retry.Reset()
	case errors.Is(err, ErrAuthenticationFailed):
		// Credentials must be refreshed by the host; retrying sooner would
		// only repeat the rejection.
		retry.Reset()
	case IsRetryable(err):
		if next := retry.NextBackOff(); next != backoff.Stop && next < delay {
			delay = next
		}
	}
	return delay
}

func (s *Scheduler) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxInterval = s.opts.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// runOnce synchronises ch over the trailing window ending now.
//
// The resource lock is held from before the run is announced until its
// final status has been published, so overlapping runs of one resource
// report their statuses strictly one after the other.
func (s *Scheduler) runOnce(ctx context.Context, ch Channel) (Result, error) {
	release, err := s.exec.lock(ctx, ch.ResourceID)
	if err != nil {
		return Result{ResourceID: ch.ResourceID, Item: ch.Item}, err
	}
	defer release()

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return Result{ResourceID: ch.ResourceID, Item: ch.Item}, err
	}
	defer s.slots.Release(1)

	now := s.opts.Now()
	query := TimeWindow{Start: now.Add(-s.opts.Window), End: now}
	runID := uuid.NewString()

	s.updateStatus(ch.ResourceID, func(st *ChannelStatus) {
		st.RunID = runID
		st.Running = true
		st.NextRun = time.Time{}
	})

	res, err := s.exec.synchronizeLocked(ctx, ch.ResourceID, ch.Item, query)

	s.updateStatus(ch.ResourceID, func(st *ChannelStatus) {
		st.RunID = runID
		st.Running = false
		st.LastRun = now
		st.LastResult = &res
		if err != nil {
			st.LastError = err.Error()
			st.ConsecutiveFailures++
			return
		}
		st.LastError = ""
		st.LastSuccess = now
		st.ConsecutiveFailures = 0
	})

	if err != nil && ctx.Err() == nil {
		s.logger.Error("history sync failed",
			"run_id", runID,
			"resource_id", ch.ResourceID,
			"item", ch.Item,
			"retryable", IsRetryable(err),
			"error", err,
		)
	}
	return res, err
}

// updateStatus applies fn to the status of resourceID and notifies the
// status callback with a copy.
func (s *Scheduler) updateStatus(resourceID string, fn func(*ChannelStatus)) {
	s.mu.Lock()
	st := s.statuses[resourceID]
	fn(st)
	snapshot := *st
	callback := s.onStatus
	s.mu.Unlock()

	if callback != nil {
		callback(snapshot)
	}
}
