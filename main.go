// server/main.go
package main

import "github.com/ViniZap4/tagkosha-server/cmd"

func main() {
	cmd.Execute()
}
