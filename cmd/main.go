package main

import "github.com/canopy-network/pulse/cmd/cli"

func main() {
	cli.Execute()
}
