// Package predict extrapolates a track's filtered state into a fixed-length
// sequence of future positions.
//
// Two motion models are available. The linear model assumes constant
// velocity. The quadratic model adds the track's clamped acceleration
// estimate and falls back to linear until that estimate exists.
//
// Paths are recomputed from the current state every frame and never stored.
package predict
