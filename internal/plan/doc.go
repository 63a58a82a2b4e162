// Package plan loads multi-component build plans written in HCL and runs
// their components in dependency order.
//
// A plan file declares components:
//
//	component "ta" "hello" {
//	  path           = "ta"
//	  ta_dev_kit_dir = "${env.TA_DEV_KIT_DIR}"
//	}
//
//	component "ca" "hello_host" {
//	  path       = "host"
//	  depends_on = ["ta.hello"]
//	}
//
// Every attribute is optional and takes the place of the matching command
// line flag for that component. Relative paths are resolved against the
// directory of the file that declares them. The process environment is
// available to expressions as env.NAME.
package plan
