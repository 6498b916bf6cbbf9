package main

import "github.com/oshokin/crashguard/cmd/crashguard/cmd"

func main() {
	cmd.Execute()
}
