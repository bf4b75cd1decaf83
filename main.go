package main

import (
	"os"

	"github.com/treadlog/treadlog/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
