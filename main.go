package main

import (
	"fmt"
	"os"

	"github.com/rootsploit/infoauto/internal/cli"
	"github.com/rootsploit/infoauto/internal/exec"
)

func main() {
	err := cli.Execute()
	// Child processes run in their own process groups; make sure none
	// outlive us.
	exec.KillAllProcesses()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
