// Package schedule holds the pure part of the bot: date and time parsing,
// event classification, time formatting, schedule rendering and splitting
// the rendered lines across the backing messages.
//
// Nothing here performs I/O or reads the clock. Callers pass "now" and the
// display zone explicitly.
package schedule
