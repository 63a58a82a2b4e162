// Package config resolves the build configuration of a single component.
//
// Every parameter is looked up in three tiers, highest priority first:
//
//  1. Command line flags (or the matching attributes of a plan component).
//  2. The [package.metadata.optee.<kind>] table of the project's Cargo.toml.
//  3. Built-in defaults, or an error for mandatory paths.
//
// Directory-valued metadata such as ta-dev-kit-dir may be keyed by
// architecture, so the architecture is settled first and the per-arch
// tables are read for the final value.
package config
