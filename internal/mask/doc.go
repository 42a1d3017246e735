// Package mask holds the headless half of the mask editor: the stroke log,
// the display/native coordinate mapping, undo snapshots and the rasterizer
// that turns strokes into a mask of exactly the source image's size.
//
// Coordinates are stored in display space only. They are converted to native
// space once, by Scale.ToNative, while rasterizing.
package mask
