package main

import "mvsynth/cmd"

func main() {
	cmd.Execute()
}
