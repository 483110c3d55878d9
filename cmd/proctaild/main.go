// Command proctaild is the ProcTail daemon: it watches tagged processes'
// file and process-lifecycle activity over ETW and serves the recorded
// events to local clients over a named pipe.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
