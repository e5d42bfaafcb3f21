package main

import "github.com/ValentinKolb/dFront/cmd"

func main() {
	cmd.Execute()
}
