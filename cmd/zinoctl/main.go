// Command zinoctl is the CLI client for the Zino daemon's operator
// protocol.
package main

import "github.com/zinolabs/zino/cmd/zinoctl/commands"

func main() {
	commands.Execute()
}
