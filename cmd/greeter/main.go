// Command greeter reacts to people in front of a camera with a gesture and
// a spoken greeting.
package main

import (
	"os"

	"github.com/Iron-Ham/greeter/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
