package chat

import (
	"bufio"
	"net"
)

// startWriter drains out to the connection, one line at a time. Closing
// out stops the writer after the queued lines are flushed; a write error
// abandons the connection silently, since the read side will hit the same
// failure and close the session.
func startWriter(conn net.Conn, out <-chan string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w := bufio.NewWriter(conn)
		for msg := range out {
			if _, err := w.WriteString(msg + "\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}()
	return done
}
