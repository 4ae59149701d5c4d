package main

import "github.com/hoppxi/wmlink/internal/cmd"

func main() {
	cmd.Execute()
}
