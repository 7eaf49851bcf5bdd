package main

import "github.com/gc-decomp/splitter/cmd/splitter"

func main() {
	splitter.Execute()
}
