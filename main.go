// The main package for the reposync executable.
package main

import (
	"github.com/JakeFAU/reposync/cmd"
)

func main() {
	cmd.Execute()
}
