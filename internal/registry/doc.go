// Package registry tracks live sessions by user identity and their last inbound activity.
//
// Registry enforces a per-user session cap with a reject-on-full policy: a session that
// does not fit is never tracked, and the caller is expected to close its connection.
// Readers always receive copies, so fan-out can iterate while admissions and teardowns
// mutate the live map.
package registry
