package main

import "github.com/ppiankov/driftwatch/internal/cli"

func main() {
	cli.Execute()
}
