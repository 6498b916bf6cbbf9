package main

import "github.com/oshokin/crashguard/cmd/crashguard-sensor/cmd"

func main() {
	cmd.Execute()
}
