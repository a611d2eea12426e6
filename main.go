package main

import "github.com/presenceio/presenced/cmd"

func main() {
	cmd.Execute()
}
