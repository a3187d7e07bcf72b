package main

import "github.com/Jakedismo/ouroboros-code-sub001/cmd/root"

func main() {
	root.Execute()
}
