package main

import "github.com/pqrs-org/go-local-datagram/cmd/dgramctl/cmd"

func main() {
	cmd.Execute()
}
