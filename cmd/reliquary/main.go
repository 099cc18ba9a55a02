package main

import (
	"os"

	"github.com/docforge/reliquary/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
