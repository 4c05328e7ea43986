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

// raftkv-cli is the interactive shell and one-shot command client.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"raftkv/internal/dict/commands"
	"raftkv/pkg/cli"
)

func main() {
	host := flag.String("h", "127.0.0.1", "server host")
	port := flag.String("p", "6379", "server port")
	flag.Parse()

	addr := net.JoinHostPort(*host, *port)

	// Arguments after the flags are a one-shot command.
	if args := flag.Args(); len(args) > 0 {
		client, err := cli.Dial(addr)
		if err != nil {
			cli.ErrConnectionFailed(addr, err).Exit()
		}
		defer client.Close()
		argv := make([][]byte, len(args))
		for i, a := range args {
			argv[i] = []byte(a)
		}
		reply, err := client.Do(argv)
		if err != nil {
			cli.PrintError("%v", err)
			os.Exit(1)
		}
		fmt.Print(cli.FormatReply(reply, ""))
		return
	}

	names := make([]string, 0)
	for _, spec := range commands.Names() {
		names = append(names, spec.Name)
	}
	repl, err := cli.NewREPL(addr, names)
	if err != nil {
		cli.ErrConnectionFailed(addr, err).Exit()
	}
	defer repl.Close()

	cli.PrintInfo("connected to %s", addr)
	if err := repl.Run(); err != nil {
		os.Exit(1)
	}
}
