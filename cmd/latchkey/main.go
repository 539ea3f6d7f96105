package main

import "github.com/brendan612/latchkey/cmd/latchkey/cmd"

func main() {
	cmd.Execute()
}
