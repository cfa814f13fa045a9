// Package actuator turns per-frame safety verdicts into a freeze/move
// command and delivers it to the physical actuator.
//
// Gate is the hysteresis state machine: any danger freezes immediately,
// resuming needs a run of consecutive clear frames. Driver polls the gate
// from its own goroutine and writes line commands to a serial port.
package actuator
