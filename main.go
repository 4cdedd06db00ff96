package main

import (
	"log"

	"github.com/thiagokokada/p4vcs-go/cmd"
	"github.com/thiagokokada/p4vcs-go/internal/buildinfo"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("%s: %v", buildinfo.ProgramName, err)
	}
}
