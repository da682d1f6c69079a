package main

import (
	"coinpeek/internal/cli"
)

func main() {
	cli.Execute()
}
