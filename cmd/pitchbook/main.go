package main

import "github.com/example/pitchbook/cmd"

func main() {
	cmd.Execute()
}
