// Package quota implements long-window usage accounting per proxy key.
//
// A Tracker admits requests against the remaining quota of the active
// accounting period (hourly, daily or monthly in a configured time zone) by
// reserving an estimate, then commits the measured usage once the response
// is known. Quota can count tokens, requests or estimated cost in
// micro-USD.
//
// Counters are persisted per (key, period) in the relay SQLite database so
// usage survives restarts and history is kept across periods. A Sweeper
// driven by a cron schedule advances the active period at each boundary.
package quota
