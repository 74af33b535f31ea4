// The main package for the crabo executable.
package main

import "github.com/fedineko/crabo/cmd"

func main() {
	cmd.Execute()
}
