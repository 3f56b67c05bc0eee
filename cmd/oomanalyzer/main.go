package main

import (
	"fmt"
	"io"
	"os"

	"github.com/leptonai/oomanalyzer/cmd/oomanalyzer/command"
	"github.com/leptonai/oomanalyzer/cmd/oomanalyzer/common"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	app := command.App()
	app.Writer = stdout
	app.ErrWriter = stderr

	if err := app.Run(args); err != nil {
		fmt.Fprintf(stderr, "%s %s\n", common.WarningSign, err)
		return common.ExitStatus(err)
	}
	return 0
}
