// Command vitalpipe ingests exported health-data archives into Postgres
// and can replay a previously-landed batch on demand.
package main

import (
	"fmt"
	"os"

	"vitalpipe.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
