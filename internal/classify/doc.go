// Package classify scores analyzed mentions into urgency tiers and decides
// which of them raise a client alert.
package classify
