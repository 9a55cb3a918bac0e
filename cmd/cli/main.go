package main

import (
	"github.com/alvesdmateus/fleet-commander/internal/cli/commands"
)

func main() {
	commands.Execute()
}
