//go:build !(linux || darwin)

package main

import (
	"fmt"
	"os"
	"runtime"
)

func main() {
	fmt.Fprintf(os.Stderr, "evwatch: unsupported platform %s/%s\n", runtime.GOOS, runtime.GOARCH)
	os.Exit(1)
}
