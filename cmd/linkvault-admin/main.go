package main

import "linkvault/internal/cli"

func main() {
	cli.Execute()
}
