package main

import "github.com/turbolytics/pixelator/internal/cmd"

func main() {
	cmd.Execute()
}
