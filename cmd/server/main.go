// Command c2i-service runs the calendar2image generation control plane: the
// config registry, scheduler, artifact cache, and HTTP front door, plus the
// hidden worker entrypoint the dispatcher re-invokes for each generation.
package main

import (
	"fmt"
	"os"

	"github.com/calendar2image/c2i-service/cmd/server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
