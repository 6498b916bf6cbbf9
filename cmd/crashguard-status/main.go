package main

import "github.com/oshokin/crashguard/cmd/crashguard-status/cmd"

func main() {
	cmd.Execute()
}
