// Package retention prunes usage records and quota counter rows older than
// usage.retention.days on the usage.retention.schedule cron expression.
package retention
