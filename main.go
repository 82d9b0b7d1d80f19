/*
Copyright 2024 Markus Papenbrock
*/
package main

import "github.com/mpapenbr/forza-session-recorder/cmd"

func main() {
	cmd.Execute()
}
