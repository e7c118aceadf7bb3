// The main package for the edgewarmer executable.
package main

import "github.com/JakeFAU/edge-warmer/cmd"

func main() {
	cmd.Execute()
}
