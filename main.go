package main

import "github.com/ValentinKolb/dps/cmd"

func main() {
	cmd.Execute()
}
