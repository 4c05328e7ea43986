/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"raftkv/internal/resp"
)

// Client is a minimal RESP client for the REPL and for one-shot
// command execution.
type Client struct {
	addr    string
	conn    net.Conn
	decoder *resp.Decoder
}

// Dial connects to a raftkv server.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{
		addr:    addr,
		conn:    conn,
		decoder: resp.NewDecoder(conn),
	}, nil
}

// Close hangs up.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one command and returns its reply.
func (c *Client) Do(argv [][]byte) (resp.Value, error) {
	request := make(resp.Array, len(argv))
	for i, arg := range argv {
		request[i] = resp.BulkString(arg)
	}
	if _, err := c.conn.Write(resp.Encode(request)); err != nil {
		return nil, err
	}
	return c.decoder.DecodeValue()
}

// REPL is the interactive shell around a Client.
type REPL struct {
	client *Client
	rl     *readline.Instance
}

// replCompleter offers the command names plus the shell escapes.
func replCompleter(names []string) *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(names)+3)
	for _, name := range names {
		items = append(items, readline.PcItem(name))
		items = append(items, readline.PcItem(strings.ToLower(name)))
	}
	items = append(items,
		readline.PcItem("\\help"),
		readline.PcItem("\\h"),
		readline.PcItem("\\quit"),
	)
	return readline.NewPrefixCompleter(items...)
}

// NewREPL connects and prepares the shell. completions is the command
// vocabulary offered on tab; pass nil for none.
func NewREPL(addr string, completions []string) (*REPL, error) {
	client, err := Dial(addr)
	if err != nil {
		return nil, err
	}

	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Highlight(addr) + "> ",
		HistoryFile:     filepath.Join(home, ".raftkv_history"),
		AutoComplete:    replCompleter(completions),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return &REPL{client: client, rl: rl}, nil
}

// Close releases the connection and the terminal.
func (r *REPL) Close() {
	r.rl.Close()
	r.client.Close()
}

// Run reads commands until EOF or \quit.
func (r *REPL) Run() error {
	for {
		line, err := r.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch line {
		case "\\quit", "\\q", "exit", "quit":
			return nil
		case "\\help", "\\h":
			r.printHelp()
			continue
		}

		argv, err := resp.SplitArgs([]byte(line))
		if err != nil {
			PrintError("%v", err)
			continue
		}
		if len(argv) == 0 {
			continue
		}
		reply, err := r.client.Do(argv)
		if err != nil {
			PrintError("connection error: %v", err)
			return err
		}
		fmt.Print(FormatReply(reply, ""))
	}
}

func (r *REPL) printHelp() {
	fmt.Println()
	fmt.Println(Highlight("raftkv shell"))
	fmt.Println("  Commands are sent to the server as typed; quoting follows")
	fmt.Println("  the inline protocol rules (\"...\" with escapes, '...').")
	fmt.Println()
	fmt.Println("  \\help, \\h     show this help")
	fmt.Println("  \\quit, \\q     leave the shell")
	fmt.Println()
}
