package main

import (
	"github.com/lesync/lesync/cmd"
	"github.com/lesync/lesync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
