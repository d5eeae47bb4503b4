package main

import "github.com/hackgods/office-parking-reservations/internal/cli"

func main() {
	cli.Execute()
}
