package main

import "github.com/maxvaer/pathhunter/cmd"

func main() {
	cmd.Execute()
}
