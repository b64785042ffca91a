package main

import (
	"os"

	"github.com/dmisim/dmisim/cmd/dmisim/cmds"
	"github.com/dmisim/dmisim/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.DMISimVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
