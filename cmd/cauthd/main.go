package main

import "github.com/MrEthical07/cauth/cmd/cauthd/cmd"

func main() {
	cmd.Execute()
}
