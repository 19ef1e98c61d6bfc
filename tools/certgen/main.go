// Package main writes a development CA and server certificate for running
// DocKeeper over HTTPS.
//
//	go run ./tools/certgen -dir certs -hosts localhost,127.0.0.1
//	TLS_CERT=certs/server.crt TLS_KEY=certs/server.key go run ./cmd/server
//	go run ./cmd/client -url https://localhost:3000 -ca certs/ca.crt
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atinyakov/DocKeeper/internal/certgen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("dir", "certs", "output directory")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "comma separated DNS names and IPs")
	ttl := fs.Duration("ttl", 365*24*time.Hour, "server certificate lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var names []string
	for _, h := range strings.Split(*hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			names = append(names, h)
		}
	}

	files, err := certgen.WriteServerBundle(*dir, names, *ttl)
	if err != nil {
		return fmt.Errorf("certgen: %w", err)
	}
	fmt.Fprintf(out, "CA:          %s\nCertificate: %s\nKey:         %s\n", files.CACert, files.ServerCert, files.ServerKey)
	return nil
}
