package main

import "attendsync/internal/cli"

func main() {
	cli.Execute()
}
