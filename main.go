package main

import "github.com/audiolibrelab/soundsentry/cmd"

func main() {
	cmd.Execute()
}
