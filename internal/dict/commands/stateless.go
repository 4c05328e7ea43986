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

package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
)

func init() {
	registerStateless("PING", AtLeast(0), cmdPing)
	registerStateless("ECHO", Fixed(1), cmdEcho)
	registerStateless("TIME", Fixed(0), cmdTime)
	registerStateless("COMMAND", AtLeast(0), cmdCommand)
}

func cmdPing(args [][]byte) (resp.Value, error) {
	switch len(args) {
	case 0:
		return resp.SimpleString("PONG"), nil
	case 1:
		return resp.BulkString(args[0]), nil
	default:
		return nil, rkverrors.WrongArity("ping")
	}
}

func cmdEcho(args [][]byte) (resp.Value, error) {
	return resp.BulkString(args[0]), nil
}

func cmdTime(args [][]byte) (resp.Value, error) {
	now := time.Now()
	return resp.Array{
		resp.BulkString(strconv.FormatInt(now.Unix(), 10)),
		resp.BulkString(strconv.FormatInt(int64(now.Nanosecond())/1000, 10)),
	}, nil
}

func cmdCommand(args [][]byte) (resp.Value, error) {
	specs := Names()
	if len(args) == 0 {
		sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
		values := make(resp.Array, len(specs))
		for i, s := range specs {
			values[i] = resp.Array{
				resp.BulkString(strings.ToLower(s.Name)),
				resp.Integer(s.Arity.Redis()),
				resp.Array{resp.BulkString(s.Kind.String())},
			}
		}
		return values, nil
	}
	switch strings.ToUpper(string(args[0])) {
	case "COUNT":
		return resp.Integer(len(specs)), nil
	default:
		return nil, rkverrors.NewClientError(fmt.Sprintf("unknown subcommand '%s'", args[0]))
	}
}
