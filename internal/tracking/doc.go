// Package tracking owns track identity and lifecycle: associating each
// frame's anonymous observations with live tracks, spawning tracks for
// unmatched observations, and coasting then retiring tracks that stop
// being observed.
//
// Lifecycle: a track is ACTIVE while matched, COASTING after any missed
// frame, and RETIRED (removed, id never reused) once its consecutive
// misses exceed the configured threshold.
//
// Filtered motion state is delegated to an Estimator; this package never
// edits the state vector itself.
package tracking
