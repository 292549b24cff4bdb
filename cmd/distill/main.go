package main

import (
	"github.com/memoflow/distill/pkg/cli"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	cli.SetVersion(version, buildDate, gitCommit)
	cli.Execute()
}
