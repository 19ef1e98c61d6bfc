package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/atinyakov/DocKeeper/internal/client"
)

var (
	version   string
	buildDate string
)

// main parses command-line flags and starts the interactive shell.
func main() {
	var (
		baseURL  string
		resource string
		caFile   string
		showVer  bool
	)

	flag.StringVar(&baseURL, "url", "http://localhost:3000", "server base URL")
	flag.StringVar(&resource, "resource", "students", "collection to work with")
	flag.StringVar(&caFile, "ca", "", "path to CA cert for HTTPS servers")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("DocKeeper Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	var httpClient *http.Client
	if caFile != "" {
		var err error
		httpClient, err = client.NewTLSClient(caFile)
		if err != nil {
			log.Fatal(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(baseURL, resource, httpClient)
	client.NewShell(c, os.Stdin, os.Stdout).Run(ctx)
}
