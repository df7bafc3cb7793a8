package kernel

import "fmt"

// TimerID identifies a one-shot absolute timer.
type TimerID int32

type timer struct {
	id      TimerID
	handler func()
	armed   bool
	at      Timespec
}

// CreateTimer registers handler as the expiry routine of a new timer. The
// timer starts disarmed.
func (k *Sim) CreateTimer(handler func()) (TimerID, error) {
	if handler == nil {
		return 0, fmt.Errorf("create timer: nil handler")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	k.nextTimer++
	id := k.nextTimer
	k.timers[id] = &timer{id: id, handler: handler}
	return id, nil
}

// ArmTimer sets the timer to fire once at the absolute time at. Arming
// replaces any previous expiry. A time in the past fires on the next
// dispatch round.
func (k *Sim) ArmTimer(id TimerID, at Timespec) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.timers[id]
	if !ok {
		return fmt.Errorf("arm timer %d: %w", id, ErrNoSuchTimer)
	}
	t.armed = true
	t.at = at
	return nil
}

// DeleteTimer disarms and removes the timer.
func (k *Sim) DeleteTimer(id TimerID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.timers[id]; !ok {
		return fmt.Errorf("delete timer %d: %w", id, ErrNoSuchTimer)
	}
	delete(k.timers, id)
	return nil
}
