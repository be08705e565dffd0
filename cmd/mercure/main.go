package main

import (
	"os"

	"github.com/mercure-chat/core/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
