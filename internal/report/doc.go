// Package report aggregates engine events into the final run report.
//
// A Listener counts queued requests, responses by status class, failures by
// type, bytes sent and received, response times and process CPU load. Once
// the run completes and every queued request has settled, the listener
// freezes a Report that Await hands to every caller.
package report
