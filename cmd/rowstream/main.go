// Command rowstream serves database query results as HTTP streams, seeds
// the demo table and exports streams to disk in fixed-size windows.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
