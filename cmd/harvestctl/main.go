package main

import (
	"os"

	"github.com/veranemoloko/media-harvester/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
