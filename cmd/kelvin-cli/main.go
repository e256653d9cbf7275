package main

import "kelvin-core/cmd/kelvin-cli/cmd"

func main() {
	cmd.Execute()
}
