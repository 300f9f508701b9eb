// Command optrack replays op workloads against the OSD op tracker and
// inspects what it archived.
package main

import (
	"fmt"
	"os"

	"github.com/gammacoder/ceph/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
