// The main package for the pagegauge executable.
package main

import "github.com/pagegauge/pagegauge/cmd"

func main() {
	cmd.Execute()
}
