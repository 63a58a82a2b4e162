// Package builder drives the external toolchain through the fixed build
// pipeline of an OP-TEE component: lint, compile, strip and, for Trusted
// Applications, sign. Plugins are copied to their UUID-based file name
// instead of being stripped.
//
// A Builder never changes the process working directory; every command
// carries its own Dir, so independent components can be built at once.
package builder
