// Package dedupe tracks recently seen keys so repeated deliveries of the same
// request can be ignored within a time window.
package dedupe
