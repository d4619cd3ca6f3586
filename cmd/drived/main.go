package main

import "github.com/uteknoid/drived/cmd/drived/cmd"

func main() {
	cmd.Execute()
}
