package main

import "github.com/felixgeelhaar/nova/cmd/nova/cli"

func main() {
	cli.Execute()
}
