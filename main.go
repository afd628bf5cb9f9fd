package main

import "github.com/jmehdipour/commerce-sync/cmd"

func main() {
	cmd.Execute()
}
