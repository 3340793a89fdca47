package main

import "github.com/davarch/debfactory/cmd/debfactory/cli"

func main() {
	cli.Execute()
}
