// Command tfsim runs producer and consumer pairs connected by timed queues and
// reports how the queues behaved.
package main

import "github.com/sarchlab/timedfifo/tfsim/cmd"

func main() {
	cmd.Execute()
}
