// The main package for the shoe-image-service executable.
package main

import "github.com/JakeFAU/shoe-image-service/cmd"

func main() {
	cmd.Execute()
}
