package main

import "abstream/cmd"

func main() {
	cmd.Execute()
}
