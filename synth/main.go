// Public domain.

package main

import "github.com/soniakeys/cs82phot/internal/synthprog"

func main() {
	synthprog.Main()
}
