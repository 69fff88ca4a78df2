package main

import "github.com/emu32dev/emu32/cmd"

func main() {
	cmd.Execute()
}
