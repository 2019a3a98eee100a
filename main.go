package main

import "github.com/ValentinKolb/dORM/cmd"

func main() {
	cmd.Execute()
}
