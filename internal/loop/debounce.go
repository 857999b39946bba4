package loop

import "time"

// Debouncer coalesces bursts of Trigger calls into one run of fn, delay after the last trigger.
// All methods must be called on the loop; fn runs on the loop.
type Debouncer struct {
	loop  *Loop
	delay time.Duration
	fn    func()

	timer *time.Timer
	gen   uint64
}

// NewDebouncer creates a debouncer bound to l.
func NewDebouncer(l *Loop, delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{loop: l, delay: delay, fn: fn}
}

// Trigger cancels any pending run and schedules a new one.
func (d *Debouncer) Trigger() {
	d.cancel()
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() {
		d.loop.Post(func() {
			// a retrigger or Stop after the timer fired invalidates this run
			if gen != d.gen {
				return
			}
			d.timer = nil
			d.fn()
		})
	})
}

// Stop cancels a pending run.
func (d *Debouncer) Stop() {
	d.cancel()
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	return d.timer != nil
}

func (d *Debouncer) cancel() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
