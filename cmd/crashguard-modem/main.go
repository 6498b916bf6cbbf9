package main

import "github.com/oshokin/crashguard/cmd/crashguard-modem/cmd"

func main() {
	cmd.Execute()
}
