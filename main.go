package main

import "github.com/ftl/fpgascope/cmd"

func main() {
	cmd.Execute()
}
