/*
simulator for a skymesh drone network
*/
package main

import "github.com/skycoin/skymesh/cmd/skymesh-sim/commands"

func main() {
	commands.Execute()
}
