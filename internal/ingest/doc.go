// Package ingest turns staged uploads into catalog assets and runs the
// operations that derive or rewrite assets: crop, EXIF edit, folder move and
// delete.
//
// Each multi-step operation walks an explicit State sequence. Every step that
// creates a file registers a compensation first, and a failure unwinds all
// registered compensations newest first, so no orphan file or record is left
// behind. Failures are reported as *Error values carrying a Code the HTTP
// layer maps to a status.
package ingest
