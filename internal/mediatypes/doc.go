// Package mediatypes holds the extension and MIME tables shared by the server
// and the batch client. It has no dependencies beyond the standard library so
// any package can import it without creating cycles.
//
// The batch uploader only labels a small fixed set of extensions:
//
//	mime, ok := mediatypes.UploadMimeType("JPG") // "image/jpeg", true
//	_, ok = mediatypes.UploadMimeType("gif")     // ok == false
//
// The server accepts a wider set (AcceptedMimeTypes) because it sniffs the
// content itself.
package mediatypes
