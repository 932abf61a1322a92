package main

import "github.com/jfcalderon/rodarpay/cmd"

func main() {
	cmd.Execute()
}
