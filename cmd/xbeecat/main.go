// Command xbeecat talks to an XBee radio in API mode: it prints or records
// inbound packets, sends data and issues AT commands.
package main

import (
	_ "github.com/lcx/xbee/net/modes/series1"
	_ "github.com/lcx/xbee/net/modes/series2"
)

func main() {
	Execute()
}
