package main

import "github.com/relaykit/clauded/cmd"

func main() {
	cmd.Execute()
}
