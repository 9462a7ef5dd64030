// Package timerqueue wraps github.com/robfig/cron/v3 to drive
// class-defined cron-triggered "timer" events — the teacher's
// controllers/common/scheduler package uses the same library for its
// time-based scheduling half (SPEC_FULL.md §D.1).
package timerqueue

import (
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Fire is called once per matched cron tick for a given job class name.
type Fire func(className string)

// Queue owns one cron.Cron instance multiplexing every class.Timer entry.
type Queue struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	fire    Fire
}

// New returns a Queue that calls fire(className) on every tick. The cron
// instance runs in its own goroutine once Start is called, matching
// robfig/cron's normal usage in the teacher's scheduler package.
func New(fire Fire) *Queue {
	return &Queue{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		fire:    fire,
	}
}

// Start begins running scheduled entries.
func (q *Queue) Start() { q.cron.Start() }

// Stop halts the scheduler and waits for any running job to complete.
func (q *Queue) Stop() { q.cron.Stop() }

// Set installs or replaces className's timer expression (a standard
// 5-field cron spec). An empty spec removes any existing entry. Nothing in
// this repository calls Set, so no ClassSpec.Timer is scheduled.
func (q *Queue) Set(className, spec string) error {
	q.Remove(className)

	if spec == "" {
		return nil
	}

	id, err := q.cron.AddFunc(spec, func() { q.fire(className) })
	if err != nil {
		return errors.Wrapf(err, "schedule timer for class %q", className)
	}

	q.entries[className] = id

	return nil
}

// Remove drops className's timer entry, if any.
func (q *Queue) Remove(className string) {
	if id, ok := q.entries[className]; ok {
		q.cron.Remove(id)
		delete(q.entries, className)
	}
}
