package main

import "github.com/absfs/securefs/cli/cmd"

func main() {
	cmd.Execute()
}
