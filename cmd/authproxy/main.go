package main

import "github.com/marmos91/authproxy/cmd/authproxy/commands"

func main() {
	commands.Execute()
}
