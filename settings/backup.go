package settings

import (
	"context"
	"sync"
	"time"
)

// DefaultBackupInterval is how often the active record is snapshotted.
const DefaultBackupInterval = 15 * time.Minute

// Backupper snapshots the active settings on a timer and can restore
// the latest snapshot. Restore replaces the active settings and clears
// the record cache.
type Backupper struct {
	service  *Service
	interval time.Duration

	mu       sync.Mutex
	snapshot *Settings

	stop chan struct{}
	done chan struct{}
}

// NewBackupper creates a backupper for the service.
func NewBackupper(service *Service, interval time.Duration) *Backupper {
	if interval <= 0 {
		interval = DefaultBackupInterval
	}
	return &Backupper{
		service:  service,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins periodic snapshots. Call Stop to end them.
func (b *Backupper) Start() {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		b.Snapshot()
		for {
			select {
			case <-ticker.C:
				b.Snapshot()
			case <-b.stop:
				return
			}
		}
	}()
}

// Stop ends the periodic snapshots.
func (b *Backupper) Stop() {
	close(b.stop)
	<-b.done
}

// Snapshot captures the current active settings.
func (b *Backupper) Snapshot() {
	active := b.service.Active()
	if active == nil {
		return
	}
	b.mu.Lock()
	b.snapshot = active.Clone()
	b.mu.Unlock()
}

// Latest returns the most recent snapshot, or nil.
func (b *Backupper) Latest() *Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot.Clone()
}

// Restore writes the latest snapshot back as the active settings and
// clears the record cache.
func (b *Backupper) Restore(ctx context.Context) error {
	b.mu.Lock()
	snapshot := b.snapshot.Clone()
	b.mu.Unlock()
	if snapshot == nil {
		return nil
	}

	snapshot.UpdatedAt = time.Now().UTC()
	if err := b.service.store.SaveSettings(ctx, snapshot); err != nil {
		return err
	}
	if err := b.service.store.ActivateSettings(ctx, snapshot.ID); err != nil {
		return err
	}

	snapshot.Active = true
	b.service.cache.Clear()
	b.service.setActive(snapshot)
	b.service.publish(Event{Type: EventRestored, SettingsID: snapshot.ID})
	return nil
}
