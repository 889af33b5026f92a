// Package cronexpr parses and evaluates the 5-field recurrence expressions
// used by scheduled tasks (minute, hour, day-of-month, month, day-of-week).
//
// Matching semantics:
//   - A candidate instant matches only when ALL five fields match. This
//     includes day-of-month and day-of-week: traditional cron ORs those two
//     when both are restricted, this engine ANDs them. Existing task
//     definitions rely on the AND behavior, so it is kept as-is.
//   - List members ("1,2,3") match by exact numeric equality only. A range or
//     step inside a list passes validation but never matches a value.
//
// Invalid input is reported via ErrMalformed; a valid expression with no
// matching instant within one year via ErrUnschedulable. Nothing here panics
// on bad input.
package cronexpr
