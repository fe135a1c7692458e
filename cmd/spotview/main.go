// Package main is the entry point for the spotview server and command line tools.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := App.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
