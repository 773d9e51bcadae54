// Command swarmpoll polls storage-node swarms and open group rooms for new
// messages and hands them to a processing queue.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "swarmpoll:", err)
		os.Exit(1)
	}
}
