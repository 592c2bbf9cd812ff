// Command exfile-tool is a diagnostic CLI exercising the exfile and
// jsonreg packages end to end: growing and mapping a file, writing through
// a mapping, and reading/writing a JSON registry.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
