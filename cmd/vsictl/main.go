// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// vsictl is a small interactive VSI/S line client: it dials a running
// jive5abd's control port and lets an operator type commands by hand,
// one reply per line, the way netcat against the control port would
// work but with table-formatted output for the replies an operator
// reads most often (net_port?, mount?, diagnostics?).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// tableKeywords lists the query keywords whose reply fields read better
// as a table than as a flat ": "-joined line.
var tableKeywords = map[string]bool{
	"net_port":    true,
	"mount":       true,
	"diagnostics": true,
	"evlbi":       true,
}

func main() {
	addr := flag.String("addr", "127.0.0.1:2630", "jive5abd control port to dial")
	cmd := flag.String("cmd", "", "run a single command and exit instead of starting an interactive session")
	timeout := flag.Duration("timeout", 5*time.Second, "dial timeout")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vsictl: dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	if *cmd != "" {
		runOne(conn, *cmd)
		return
	}
	runInteractive(conn, *addr)
}

func runOne(conn net.Conn, line string) {
	reply, err := send(conn, line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vsictl: %v\n", err)
		os.Exit(1)
	}
	printReply(line, reply)
}

func runInteractive(conn net.Conn, addr string) {
	fmt.Printf("vsictl connected to %s. Type a VSI/S command (e.g. mount?), or 'quit' to exit.\n", addr)
	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("vsictl> ")
		if !stdin.Scan() {
			return
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		reply, err := send(conn, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vsictl: %v\n", err)
			return
		}
		printReply(line, reply)
	}
}

// send writes line to conn (appending the trailing ';' and newline the
// protocol expects if the caller omitted them) and reads back the
// single reply line.
func send(conn net.Conn, line string) (string, error) {
	out := strings.TrimSpace(line)
	if !strings.HasSuffix(out, ";") {
		out += ";"
	}
	if _, err := fmt.Fprintln(conn, out); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// printReply renders reply as a table for the keywords an operator
// reads most often, or prints it verbatim otherwise.
func printReply(requestLine, reply string) {
	keyword := keywordOf(requestLine)
	fields := splitReply(reply)
	if !tableKeywords[keyword] || len(fields) <= 1 {
		fmt.Println(reply)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "value"})
	for i, f := range fields[1:] {
		table.Append([]string{fmt.Sprintf("%d", i), f})
	}
	table.Render()
}

func keywordOf(requestLine string) string {
	line := strings.TrimSpace(requestLine)
	idx := strings.IndexAny(line, "=?")
	if idx < 0 {
		return strings.ToLower(line)
	}
	return strings.ToLower(strings.TrimSpace(line[:idx]))
}

// splitReply splits a "!keyword(=|?) code : field : field;" reply on ':'
// after trimming the leading '!' and trailing ';'. The first element is
// "keyword(=|?) code"; the remaining elements are the fields.
func splitReply(reply string) []string {
	reply = strings.TrimPrefix(reply, "!")
	reply = strings.TrimSuffix(reply, ";")
	parts := strings.Split(reply, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
