// Package imaging turns a PNG screenshot into the requested thumbnail: decode, resize under the
// contain policy with Catmull-Rom resampling, and encode as webp, jpeg or png.
package imaging
