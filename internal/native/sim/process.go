package sim

import (
	"io"

	"github.com/spf13/pflag"
)

// processType extracts --type from a command line. Flags meant for the host
// or other roles are ignored.
func processType(args []string) (string, error) {
	if len(args) < 2 {
		return "", nil
	}
	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	typ := fs.String("type", "", "secondary process role")
	if err := fs.Parse(args[1:]); err != nil {
		return "", err
	}
	return *typ, nil
}
