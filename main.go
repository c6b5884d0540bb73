package main

import "github.com/appmon-dev/appmon/cmd"

func main() {
	cmd.Execute()
}
