package main

import (
	"os"

	"github.com/tazhate/coursesync/cmd/coursesync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
