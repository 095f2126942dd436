package main

import "github.com/secrethound/secrethound/cmd"

func main() {
	cmd.Execute()
}
