package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/cli"
)

func main() {
	cli.Execute()
}
