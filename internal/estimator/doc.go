// Package estimator implements the per-track state estimator: a
// constant-velocity Kalman filter over [x, y, vx, vy] with position-only
// measurements.
//
// Every live track is predicted forward once per frame with the measured
// frame dt and, when an observation was associated, corrected against the
// observed centroid. Velocity is never observed directly; it is recovered
// through the position/velocity cross-covariance terms of the correction.
//
// The package also keeps a short velocity history per track from which a
// clamped acceleration estimate is derived for quadratic extrapolation.
package estimator
