// The main package for the mediawatch executable.
package main

import "github.com/JakeFAU/mediawatch/cmd"

func main() {
	cmd.Execute()
}
