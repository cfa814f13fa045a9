// Package pipeline runs one synchronous pass per sensor frame:
// track manager, state estimator, trajectory predictor, safety evaluator
// and actuator gate, in that order, to completion before the next frame is
// accepted.
//
// The pipeline owns the elapsed-time measurement. Each frame's dt comes
// from the frame timestamp (or the pipeline clock when the sensor has
// none) and is passed explicitly to the estimator and the predictor.
//
// Results are published as immutable FrameResult values to registered
// sinks and through Last for concurrent readers such as the status server.
package pipeline
