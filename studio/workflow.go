/*
workflow.go - Status-triggered task automation

PURPOSE:
  Maps a booking-status transition to the tasks that should be appended to
  the booking. The booking service calls TasksFor on every update where the
  status actually changed; the result is APPENDED to the booking's existing
  task list, never replacing it.

RE-ENTRY:
  Entering the same status twice (BOOKED -> SHOOTING -> BOOKED -> SHOOTING)
  re-triggers the rule and appends duplicate tasks. That matches the
  shipped behavior; de-duplication by title is an open product question.
*/
package studio

import "github.com/google/uuid"

// RuleFor returns the first rule triggered by status, or nil.
func RuleFor(status Status, rules []AutomationRule) *AutomationRule {
	for i := range rules {
		if rules[i].Trigger == status {
			return &rules[i]
		}
	}
	return nil
}

// TasksFor generates fresh tasks for a booking entering newStatus.
// Every task gets a new id and completed=false, even when a task with the
// same title already exists on the booking.
func TasksFor(newStatus Status, rules []AutomationRule) []BookingTask {
	rule := RuleFor(newStatus, rules)
	if rule == nil {
		return nil
	}
	tasks := make([]BookingTask, 0, len(rule.TaskTitles))
	for _, title := range rule.TaskTitles {
		tasks = append(tasks, BookingTask{
			ID:    uuid.NewString(),
			Title: title,
		})
	}
	return tasks
}

// TasksFromPackage seeds a new booking's task list from its package.
func TasksFromPackage(pkg Package) []BookingTask {
	tasks := make([]BookingTask, 0, len(pkg.DefaultTaskTitles))
	for _, title := range pkg.DefaultTaskTitles {
		tasks = append(tasks, BookingTask{
			ID:    uuid.NewString(),
			Title: title,
		})
	}
	return tasks
}
