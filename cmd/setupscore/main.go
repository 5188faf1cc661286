package main

import "setup-maturity/internal/cli"

func main() {
	cli.Execute()
}
