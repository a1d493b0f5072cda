// Package shimconfig holds the shim's flag-bound configuration (spec §6).
// It is a plain value type so it can be both built from cobra/pflag in
// cmd/shimmy and round-tripped through JSON across the re-exec boundary
// internal/supervisor uses to hand state to the detached shim and the
// runtime helper.
package shimconfig

// Config mirrors every CLI flag spec §6 defines. Field names follow the
// teacher's convention of exporting a flat options struct from a cmd
// package (see the teacher's ProcessOpts in execution/executors/shim).
type Config struct {
	ShimPidfile  string `json:"shimPidfile"`
	ShimLogLevel string `json:"shimLogLevel"`

	SyncPipeFD int `json:"syncPipeFd"`

	Runtime     string   `json:"runtime"`
	RuntimeArgs []string `json:"runtimeArgs"`

	Bundle      string `json:"bundle"`
	ContainerID string `json:"containerId"`

	ContainerPidfile  string `json:"containerPidfile"`
	ContainerLogfile  string `json:"containerLogfile"`
	ContainerExitfile string `json:"containerExitfile"`
	ContainerAttach   string `json:"containerAttachfile"`

	Stdin     bool `json:"stdin"`
	StdinOnce bool `json:"stdinOnce"`
}

// EnvConfig is the environment variable carrying a Config as JSON across
// the re-exec boundary (spec §4.1's fork steps, implemented in Go via
// internal/reexec rather than a raw fork(2)).
const EnvConfig = "_SHIMMY_CONFIG"

// EnvSyncPipeFD is the alternate way the sync-pipe FD is communicated
// (spec §6: "--syncpipe-fd <int> (or environment _OCI_SYNCPIPE)").
const EnvSyncPipeFD = "_OCI_SYNCPIPE"
