// Package supervisor owns the two long-lived timers of the server: the
// heartbeat, which keeps every live connection warm, and the idle scan, which
// closes sessions that have gone quiet for longer than the idle timeout.
package supervisor
