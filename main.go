package main

import "github.com/apiwatch/apiwatch/cmd"

func main() {
	cmd.Execute()
}
