// Package video provides the server's synthetic frame source: an
// animated test pattern rendered at a base resolution, scaled to the
// active tier and encoded as JPEG. It stands in for a camera or file
// decoder so the transport path can be exercised end to end.
package video
