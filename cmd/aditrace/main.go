package main

import "github.com/OpenTraceLab/aditrace/cmd/aditrace/cmd"

func main() {
	cmd.Execute()
}
