package main

import "pipewatch/app/cmd"

func main() {
	cmd.Execute()
}
