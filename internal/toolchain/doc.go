// Package toolchain runs the external programs a build is made of (cargo,
// xargo, the cross gcc/objcopy and the signing script) and turns their exit
// status into Go errors.
//
// Commands are plain values so builders can be tested against a recording
// Runner instead of a real toolchain. The ExecRunner is the only
// implementation that touches os/exec.
package toolchain
