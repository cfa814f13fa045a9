// Package safety tests predicted paths against the protected zone and
// produces the per-frame danger verdict.
//
// Step 0 is a track's current filtered position and steps 1..N are its
// predicted path, so an object already inside the zone is reported with
// zero lead time. The verdict is recomputed from scratch every frame.
package safety
