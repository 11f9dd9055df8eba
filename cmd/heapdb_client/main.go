package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"heapdb/pkg/config"
	"heapdb/pkg/logger"
)

var log = logger.For("client")

const dialTimeout = 5 * time.Second

// Connects to a heapdb server and relays stdin to it and its replies to stdout. When
// stdin ends the write half is closed so the server sees EOF, and the client exits
// after the server's last reply.
func main() {
	var port = flag.Int("p", 0, "port number")
	var host = flag.String("h", "localhost", "server host")
	flag.Parse()
	if *port == 0 {
		fmt.Printf("usage: ./%s_client [-h <host>] -p <port>\n", config.DBName)
		return
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(*host, fmt.Sprint(*port)), dialTimeout)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	replies := make(chan error, 1)
	go func() {
		_, err := io.Copy(os.Stdout, conn)
		replies <- err
	}()
	if _, err := io.Copy(conn, os.Stdin); err != nil {
		log.Fatal(err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			log.Warn(err)
		}
	}
	if err := <-replies; err != nil {
		log.Fatal(err)
	}
}
