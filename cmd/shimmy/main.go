// Command shimmy is the container shim's entry point: it parses the flags
// spec §6 defines, then hands off to internal/supervisor.Run, which forks
// the detached shim and returns immediately (spec §4.1 step 1). Flag
// parsing uses github.com/spf13/cobra + pflag, the teacher's CLI framework
// (main.go, cmd/compose/*.go), with a single root command since spec §6
// defines a flat flag surface rather than a command tree.
package main

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"shimmy/internal/reexec"
	"shimmy/internal/shimconfig"
	"shimmy/internal/supervisor"
)

func main() {
	// Must run before anything else: when argv[0] matches a re-exec
	// identity registered by internal/supervisor (the detached shim or
	// the runtime helper), Init runs that entry point and never returns
	// to the normal cobra startup path below.
	if reexec.Init() {
		return
	}

	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Fatal("shimmy failed")
	}
}

func newRootCommand() *cobra.Command {
	var cfg shimconfig.Config

	cmd := &cobra.Command{
		Use:           "shimmy",
		Short:         "container shim: launch a container via an OCI runtime and supervise it",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if env := os.Getenv(shimconfig.EnvSyncPipeFD); env != "" && !cmd.Flags().Changed("syncpipe-fd") {
				fd, err := parseEnvFd(env)
				if err != nil {
					return err
				}
				cfg.SyncPipeFD = fd
			}
			return supervisor.Run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.ShimPidfile, "shimmy-pidfile", "P", "", "path to persist the shim's PID")
	flags.StringVar(&cfg.ShimLogLevel, "shimmy-log-level", "INFO", "shim log level")
	flags.IntVarP(&cfg.SyncPipeFD, "syncpipe-fd", "S", -1, "inherited file descriptor to the manager (or $_OCI_SYNCPIPE)")
	flags.StringVarP(&cfg.Runtime, "runtime", "r", "", "path to the OCI runtime binary")
	flags.StringArrayVar(&cfg.RuntimeArgs, "runtime-arg", nil, "extra argument passed to the runtime before 'create' (repeatable)")
	flags.StringVarP(&cfg.Bundle, "bundle", "b", "", "container bundle path")
	flags.StringVarP(&cfg.ContainerID, "container-id", "c", "", "container id")
	flags.StringVarP(&cfg.ContainerPidfile, "container-pidfile", "p", "", "file the runtime writes the container's PID into")
	flags.StringVarP(&cfg.ContainerLogfile, "container-logfile", "l", "", "destination of the container log")
	flags.StringVar(&cfg.ContainerExitfile, "container-exitfile", "", "destination of the exit-status JSON artifact")
	flags.StringVar(&cfg.ContainerAttach, "container-attachfile", "", "Unix-domain socket path for attach clients")
	flags.BoolVar(&cfg.Stdin, "stdin", false, "create a stdin pipe to the container")
	flags.BoolVar(&cfg.StdinOnce, "stdin-once", false, "close container stdin when the first attach client disconnects")

	for _, name := range []string{"shimmy-pidfile", "runtime", "bundle", "container-id", "container-pidfile", "container-logfile", "container-exitfile", "container-attachfile"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func parseEnvFd(s string) (int, error) {
	return strconv.Atoi(s)
}
