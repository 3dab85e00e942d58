package main

import (
	"os"

	"github.com/wesleyorama2/ratecheck/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
