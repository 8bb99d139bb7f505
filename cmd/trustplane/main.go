package main

import "github.com/MrEthical07/trustplane/internal/cli"

func main() {
	cli.Execute()
}
