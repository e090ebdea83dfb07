// Command mutate compiles mutation declarations, triggers them through the
// dispatch channel and inspects the journal they leave behind.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/mutate/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, exitErr.Error())
	}
	os.Exit(cli.GetExitCode(err))
}
