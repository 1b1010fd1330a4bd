package events

import (
	"errors"
	"slices"

	"github.com/zeusync/treesync/internal/core/change"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/view"
)

// eventList is a run of queued events that all belong to the same query
// location.
type eventList struct {
	path   tree.Path
	events []view.Event
}

// Queue holds events until the caller decides which locations may raise.
// Lists are raised in the order they were queued. Queue is not safe for
// concurrent use.
type Queue struct {
	lists      []*eventList
	dispatcher *Dispatcher
}

func NewQueue(dispatcher *Dispatcher) *Queue {
	return &Queue{dispatcher: dispatcher}
}

// Len returns the number of events waiting.
func (q *Queue) Len() int {
	total := 0
	for _, l := range q.lists {
		if l != nil {
			total += len(l.events)
		}
	}
	return total
}

// QueueEvents appends events, grouping consecutive events for the same
// location.
func (q *Queue) QueueEvents(events []view.Event) {
	var current *eventList
	for _, e := range events {
		path := locationOf(e)
		if current != nil && !current.path.Equal(path) {
			q.lists = append(q.lists, current)
			current = nil
		}
		if current == nil {
			current = &eventList{path: path}
		}
		current.events = append(current.events, e)
	}
	if current != nil {
		q.lists = append(q.lists, current)
	}
}

// RaiseEventsAtPath queues events and raises every list for exactly path.
func (q *Queue) RaiseEventsAtPath(path tree.Path, events []view.Event) error {
	q.QueueEvents(events)
	return q.raiseMatching(func(listPath tree.Path) bool { return listPath.Equal(path) })
}

// RaiseEventsForChangedPath queues events and raises every list at, above
// or below changed.
func (q *Queue) RaiseEventsForChangedPath(changed tree.Path, events []view.Event) error {
	q.QueueEvents(events)
	return q.raiseMatching(func(listPath tree.Path) bool {
		return listPath.Contains(changed) || changed.Contains(listPath)
	})
}

func (q *Queue) raiseMatching(match func(tree.Path) bool) error {
	var all error
	// Handlers may queue more lists while we deliver, so the length is
	// read on every pass.
	for i := 0; i < len(q.lists); i++ {
		l := q.lists[i]
		if l == nil || !match(l.path) {
			continue
		}
		q.lists[i] = nil
		if err := q.dispatcher.Deliver(l.events...); err != nil {
			all = errors.Join(all, err)
		}
	}
	if !slices.ContainsFunc(q.lists, func(l *eventList) bool { return l != nil }) {
		q.lists = nil
	}
	return all
}

// locationOf returns the query location an event was raised for. Child
// events carry the child's path.
func locationOf(e view.Event) tree.Path {
	if e.IsCancel() || e.Kind == change.Value {
		return e.Path
	}
	return e.Path.Parent()
}
