package main

import "github.com/jt05610/sampler/cmd/sampler/cmd"

func main() {
	cmd.Execute()
}
