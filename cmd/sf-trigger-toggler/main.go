package main

import (
	"os"

	"github.com/helvethink/sf-trigger-toggler/internal/cli"
)

var version = "devel"

func main() {
	cli.Run(version, os.Args)
}
