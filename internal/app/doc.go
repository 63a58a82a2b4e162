// Package app contains the core application logic. It turns a parsed
// Config into configuration resolution, builds, installs and cleans,
// decoupled from the command line entrypoint.
package app
