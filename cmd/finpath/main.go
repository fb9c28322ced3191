package main

import "finpath-insight/internal/cli"

func main() {
	cli.Execute()
}
