// Package backends holds the configured upstream backends, their health
// state machine and the selector that picks a backend per attempt.
//
// Health moves healthy -> suspect on the first failure, suspect -> down
// after FailureThreshold consecutive failures, and back to healthy on a
// success. A down backend becomes suspect again once its cooldown has
// elapsed; exactly one probe request is then let through, and a failed probe
// sends it straight back to down. Health is only changed by forwarding
// outcomes reported through HealthReporter and is not persisted.
package backends
