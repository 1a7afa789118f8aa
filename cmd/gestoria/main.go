package main

import (
	"os"

	"github.com/timofeymelnik/gestoria/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
