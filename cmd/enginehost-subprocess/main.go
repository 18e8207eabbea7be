// enginehost-subprocess is a dedicated helper executable for engine
// subprocesses, for hosts that set browser_subprocess_path.
package main

import (
	"fmt"
	"os"

	"github.com/seantiz/enginehost/internal/cmd"
	"github.com/seantiz/enginehost/internal/model"
)

func main() {
	code := cmd.ExecuteProcess(os.Args)
	if code < 0 {
		fmt.Fprintln(os.Stderr, "usage: enginehost-subprocess --type=<renderer|gpu-process|utility>")
		code = int(model.ResultCodeUnsupportedParam)
	}
	os.Exit(code)
}
