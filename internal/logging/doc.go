// Package logging provides a simple leveled logging interface for the
// image vault server and the imagectl client.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable
// (DEBUG=true is accepted as a shortcut) and can be overridden with SetLevel.
package logging
