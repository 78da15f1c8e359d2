package main

import (
	"github.com/BioHazard786/warpmeet/cmd"
	"github.com/BioHazard786/warpmeet/internal/logging"
)

func main() {
	// Initialize logging
	closeLog := logging.Init()
	defer closeLog()
	cmd.Execute()
}
