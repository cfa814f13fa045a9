// Package geom holds the 2-D geometry shared by every pipeline stage:
// image-plane points, observation bounding boxes and the protected zone
// shapes.
//
// Points are golang/geo r2 vectors so stages get Add/Sub/Mul/Norm without
// re-implementing them. Coordinates are in sensor pixels.
package geom
