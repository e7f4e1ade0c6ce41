// Command libsync synchronizes the national library register into Postgres
// and serves the resulting views.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
