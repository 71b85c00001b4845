package main

import "github.com/rackfleet/rackrpc/cmd"

func main() {
	cmd.Execute()
}
