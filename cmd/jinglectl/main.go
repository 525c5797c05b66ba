// Command jinglectl утилита сессий Jingle: преобразование SDP и Jingle,
// relay станз для разработки и клиент звонков на pion/webrtc.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
