package main

import "github.com/tejiriaustin/slm/cmd"

func main() {
	cmd.Execute()
}
