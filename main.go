package main

import "shpdata/cmd"

func main() {
	cmd.Execute()
}
