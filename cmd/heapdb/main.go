package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"heapdb/pkg/config"
	"heapdb/pkg/database"
	"heapdb/pkg/logger"
	"heapdb/pkg/repl"

	"github.com/google/uuid"
)

// Default port 8335.
const DEFAULT_PORT int = 8335

var log = logger.For("server")

// Listens for SIGINT or SIGTERM and closes the database.
func setupCloseHandler(db *database.Database) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("closehandler invoked")
		db.Close()
		os.Exit(0)
	}()
}

// Start listening for connections at port `port`. Each connection is one client; a
// transaction it leaves open is aborted when it disconnects.
func startServer(r *repl.REPL, db *database.Database, prompt string, port int) {
	handleConn := func(c net.Conn) {
		clientId := uuid.New()
		defer c.Close()
		defer func() {
			if t, err := db.TransactionManager().End(clientId); err == nil {
				if err := db.Complete(t, false); err != nil {
					log.Warnf("abort of disconnected client %v: %v", clientId, err)
				}
			}
		}()
		log.Infof("client %v connected from %v", clientId, c.RemoteAddr())
		r.Run(clientId, prompt, c, c)
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%v", port))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%v server started listening on localhost:%v\n", config.DBName,
		listener.Addr().(*net.TCPAddr).Port)
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Warn(err)
			continue
		}
		go handleConn(conn)
	}
}

// Start the database.
func main() {
	var promptFlag = flag.Bool("c", true, "use prompt?")
	var configFlag = flag.String("config", "", "INI config file")
	var dbFlag = flag.String("db", "", "DB folder (overrides the config file)")
	var serverFlag = flag.Bool("server", false, "serve clients over TCP instead of running a local REPL")
	var portFlag = flag.Int("p", DEFAULT_PORT, "port number")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if *dbFlag != "" {
		cfg.DataDir = *dbFlag
	}
	logger.Init(logger.Config{Level: cfg.LogLevel})

	db, err := database.Open(cfg.DataDir, cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer db.Close()
	setupCloseHandler(db)

	r := database.DatabaseRepl(db)
	prompt := config.GetPrompt(*promptFlag)
	if *serverFlag {
		startServer(r, db, prompt, *portFlag)
	} else {
		r.Run(uuid.New(), prompt, nil, nil)
	}
}
