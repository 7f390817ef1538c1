package main

import "github.com/michelhabib/privatehomebox/cmd"

func main() {
	cmd.Execute()
}
