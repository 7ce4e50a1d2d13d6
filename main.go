// Public domain.

package main

import "github.com/soniakeys/cs82phot/internal/cs82prog"

func main() {
	cs82prog.Main()
}
