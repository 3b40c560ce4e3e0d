package timer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// activity is the clock, state machine and autosave loop shared by focus and
// quiz sessions. Session-specific fields are guarded by the same mutex.
// ARCHITECTURAL DISCOVERY: time is derived from wall-clock checkpoints rather
// than counted ticks, so a stalled goroutine never loses seconds
type activity struct {
	key          string
	kind         Kind
	store        *Store
	saveInterval time.Duration
	saveTimeout  time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu        sync.Mutex
	machine   Machine
	countdown bool
	duration  time.Duration // planned countdown length
	left      time.Duration // remaining at the last checkpoint
	elapsed   time.Duration // elapsed at the last checkpoint
	since     time.Time     // start of the current running stretch
	expiry    *time.Timer
	stopSave  chan struct{}
	closed    bool

	// fill adds session-specific fields to a snapshot; called with mu held
	fill func(*Snapshot)
	// onExpire runs without mu when the countdown reaches zero
	onExpire func()
	// onReset and onRestore reset or apply session fields; called with mu held
	onReset   func()
	onRestore func(*Recovered)
}

func (a *activity) checkpointLocked() {
	if a.machine.Status() != StatusRunning {
		return
	}
	now := a.now()
	d := now.Sub(a.since)
	if d < 0 {
		d = 0
	}
	a.elapsed += d
	if a.countdown {
		a.left = max(0, a.left-d)
	}
	a.since = now
}

func (a *activity) snapshotLocked() *Snapshot {
	a.checkpointLocked()
	snap := &Snapshot{
		Kind:      a.kind,
		Status:    a.machine.Status(),
		Countdown: a.countdown,
		Elapsed:   int(a.elapsed / time.Second),
		Duration:  int(a.duration / time.Second),
	}
	if a.countdown {
		// round up so a partly used second is not lost
		snap.TimeLeft = int((a.left + time.Second - 1) / time.Second)
	}
	if a.fill != nil {
		a.fill(snap)
	}
	return snap
}

// startLocked begins a running stretch and arms expiry and autosave.
func (a *activity) startLocked() {
	a.since = a.now()
	if a.countdown {
		a.expiry = time.AfterFunc(a.left, a.expire)
	}
	if a.stopSave == nil {
		a.stopSave = make(chan struct{})
		go a.autosave(a.stopSave)
	}
}

// haltLocked stops the clock and all timers.
func (a *activity) haltLocked() {
	a.checkpointLocked()
	if a.expiry != nil {
		a.expiry.Stop()
		a.expiry = nil
	}
	if a.stopSave != nil {
		close(a.stopSave)
		a.stopSave = nil
	}
}

func (a *activity) expire() {
	a.mu.Lock()
	if a.closed || a.machine.Status() != StatusRunning {
		a.mu.Unlock()
		return
	}
	a.checkpointLocked()
	if a.left > 0 {
		// fired early relative to the injected clock; re-arm
		a.expiry = time.AfterFunc(a.left, a.expire)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if a.onExpire != nil {
		a.onExpire()
	}
}

func (a *activity) autosave(stop <-chan struct{}) {
	ticker := time.NewTicker(a.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			if a.machine.Status() != StatusRunning {
				a.mu.Unlock()
				continue
			}
			snap := a.snapshotLocked()
			a.mu.Unlock()
			a.save(snap)
		case <-stop:
			return
		}
	}
}

// save writes snap, logging failures. Persistence problems never reach the
// caller of a tick or lifecycle path.
func (a *activity) save(snap *Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), a.saveTimeout)
	defer cancel()
	if err := a.store.Save(ctx, a.key, snap); err != nil {
		a.logger.Warn("snapshot save failed", zap.String("key", a.key), zap.Error(err))
	}
}

func (a *activity) clear() {
	ctx, cancel := context.WithTimeout(context.Background(), a.saveTimeout)
	defer cancel()
	if err := a.store.Clear(ctx, a.key); err != nil {
		a.logger.Warn("snapshot clear failed", zap.String("key", a.key), zap.Error(err))
	}
}

// restoreLocked applies a recovered snapshot's timing and status.
func (a *activity) restoreLocked(rec *Recovered) {
	a.countdown = rec.Countdown
	a.elapsed = time.Duration(rec.Elapsed) * time.Second
	a.left = time.Duration(rec.TimeLeft) * time.Second
	if rec.Duration > 0 {
		a.duration = time.Duration(rec.Duration) * time.Second
	}
	a.machine.restore(rec.Status)
}

// status, remaining and elapsed time as of now.
func (a *activity) clockLocked() (Status, time.Duration, time.Duration) {
	a.checkpointLocked()
	return a.machine.Status(), a.left, a.elapsed
}

// Status returns the current state.
func (a *activity) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.Status()
}

// TimeLeft returns the remaining countdown, zero for count-up activities.
func (a *activity) TimeLeft() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, left, _ := a.clockLocked()
	return left
}

// Elapsed returns the running time so far.
func (a *activity) Elapsed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _, elapsed := a.clockLocked()
	return elapsed
}

// Start moves idle to running and begins autosaving.
func (a *activity) Start() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrSessionClosed
	}
	if err := a.machine.Start(); err != nil {
		a.mu.Unlock()
		return err
	}
	a.left = a.duration
	a.elapsed = 0
	a.startLocked()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.save(snap)
	return nil
}

// Pause stops the clock and saves.
func (a *activity) Pause() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrSessionClosed
	}
	a.checkpointLocked()
	if err := a.machine.Pause(); err != nil {
		a.mu.Unlock()
		return err
	}
	a.haltLocked()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.save(snap)
	return nil
}

// Resume continues a paused activity.
func (a *activity) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrSessionClosed
	}
	if err := a.machine.Resume(); err != nil {
		return err
	}
	a.startLocked()
	return nil
}

// Suspend handles an unload intent: a running activity is paused and any
// unfinished one is saved synchronously.
func (a *activity) Suspend() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if a.machine.Status() == StatusRunning {
		a.checkpointLocked()
		_ = a.machine.Pause()
		a.haltLocked()
	}
	status := a.machine.Status()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	if status == StatusPaused {
		a.save(snap)
	}
}

// Reset returns to idle from any state and clears the snapshot.
func (a *activity) Reset() {
	a.mu.Lock()
	a.haltLocked()
	a.machine.Reset()
	a.left = a.duration
	a.elapsed = 0
	if a.onReset != nil {
		a.onReset()
	}
	a.mu.Unlock()

	a.clear()
}

// Close stops all timers. An unfinished activity is saved as it stands so
// a later Restore accounts for the time spent away.
func (a *activity) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	status := a.machine.Status()
	snap := a.snapshotLocked()
	a.haltLocked()
	a.mu.Unlock()

	if status == StatusRunning || status == StatusPaused {
		a.save(snap)
	}
}

// finish moves running to completed, stops timers and clears the snapshot.
// It reports false when the activity was not running.
func (a *activity) finish() bool {
	a.mu.Lock()
	a.checkpointLocked()
	if err := a.machine.Complete(); err != nil {
		a.mu.Unlock()
		return false
	}
	a.haltLocked()
	a.mu.Unlock()

	a.clear()
	return true
}

// restore loads the snapshot for an idle activity. A snapshot that finished
// while away is returned with the activity moved to completed; otherwise the
// activity resumes in its recovered (never running) state.
func (a *activity) restore(ctx context.Context) (*Recovered, error) {
	rec, err := a.store.Load(ctx, a.key)
	if err != nil || rec == nil {
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if a.machine.Status() != StatusIdle {
		a.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	a.restoreLocked(rec)
	if a.onRestore != nil {
		a.onRestore(rec)
	}
	if rec.Finished || rec.Status == StatusCompleted {
		a.machine.restore(StatusCompleted)
	}
	a.mu.Unlock()

	if rec.Finished || rec.Status == StatusCompleted {
		a.clear()
	}
	return rec, nil
}
