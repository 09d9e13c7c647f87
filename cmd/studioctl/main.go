package main

import "renderstudio/internal/cli"

func main() {
	cli.Execute()
}
