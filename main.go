package main

import "github.com/bcgov/geodiff/cmd"

func main() {
	cmd.Execute()
}
