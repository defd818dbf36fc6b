package main

import "productfinder/cmd"

func main() {
	cmd.Execute()
}
