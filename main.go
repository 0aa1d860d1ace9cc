package main

import "shortsq/cmd"

func main() {
	cmd.Run()
}
