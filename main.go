package main

import (
	"github.com/luma/nearwire/cmd"
)

func main() {
	cmd.Execute()
}
