package main

import "structure-signals/internal/cli"

func main() {
	cli.Execute()
}
