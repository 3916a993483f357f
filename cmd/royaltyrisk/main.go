package main

import "royalty-risk/internal/cli"

func main() {
	cli.Execute()
}
