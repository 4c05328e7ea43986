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
	"strconv"
	"strings"

	"raftkv/internal/dict"
	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
)

func init() {
	registerWrite("SET", AtLeast(2), cmdSet)
	registerWrite("SETNX", Fixed(2), cmdSetNX)
	registerWrite("GETSET", Fixed(2), cmdGetSet)
	registerWrite("GETDEL", Fixed(1), cmdGetDel)
	registerWrite("APPEND", Fixed(2), cmdAppend)
	registerWrite("INCR", Fixed(1), incrBy(+1))
	registerWrite("DECR", Fixed(1), incrBy(-1))
	registerWrite("INCRBY", Fixed(2), incrByArg(+1))
	registerWrite("DECRBY", Fixed(2), incrByArg(-1))
	registerWrite("MSET", AtLeast(2), cmdMSet)

	registerRead("GET", Fixed(1), cmdGet)
	registerRead("STRLEN", Fixed(1), cmdStrLen)
	registerRead("MGET", AtLeast(1), cmdMGet)
}

func cmdSet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	key, value := args[0], args[1]
	var nx, xx bool
	for _, opt := range args[2:] {
		switch strings.ToUpper(string(opt)) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		default:
			return nil, rkverrors.Syntax()
		}
	}
	if nx && xx {
		return nil, rkverrors.Syntax()
	}
	g := d.Write()
	defer g.Release()
	_, exists := g.Dict()[string(key)]
	if (nx && exists) || (xx && !exists) {
		return resp.Null{}, nil
	}
	g.Dict()[string(key)] = dict.String(value)
	return resp.OK, nil
}

func cmdSetNX(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	if _, exists := g.Dict()[string(args[0])]; exists {
		return resp.Integer(0), nil
	}
	g.Dict()[string(args[0])] = dict.String(args[1])
	return resp.Integer(1), nil
}

func cmdGet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	s, ok, err := typedLookup[dict.String](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Null{}, nil
	}
	return resp.BulkString(s), nil
}

func cmdGetSet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	old, ok, err := typedLookup[dict.String](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	g.Dict()[string(args[0])] = dict.String(args[1])
	if !ok {
		return resp.Null{}, nil
	}
	return resp.BulkString(old), nil
}

func cmdGetDel(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	old, ok, err := typedLookup[dict.String](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Null{}, nil
	}
	delete(g.Dict(), string(args[0]))
	return resp.BulkString(old), nil
}

func cmdAppend(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	s, _, err := typedLookup[dict.String](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	s = append(s, args[1]...)
	g.Dict()[string(args[0])] = s
	return resp.Integer(len(s)), nil
}

func cmdStrLen(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	s, _, err := typedLookup[dict.String](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	return resp.Integer(len(s)), nil
}

func cmdMGet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	values := make(resp.Array, len(args))
	for i, key := range args {
		if s, ok := g.Dict()[string(key)].(dict.String); ok {
			values[i] = resp.BulkString(s)
		} else {
			values[i] = resp.Null{}
		}
	}
	return values, nil
}

func cmdMSet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	if len(args)%2 != 0 {
		return nil, rkverrors.WrongArity("mset")
	}
	g := d.Write()
	defer g.Release()
	for i := 0; i < len(args); i += 2 {
		g.Dict()[string(args[i])] = dict.String(args[i+1])
	}
	return resp.OK, nil
}

func adjustInt(d dict.Lockable, key []byte, delta int64) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	s, ok, err := typedLookup[dict.String](g.Dict(), key)
	if err != nil {
		return nil, err
	}
	var current int64
	if ok {
		current, err = strconv.ParseInt(string(s), 10, 64)
		if err != nil {
			return nil, rkverrors.NotAnInteger()
		}
	}
	// Overflow in either direction is an error, not a wrap.
	next := current + delta
	if (delta > 0 && next < current) || (delta < 0 && next > current) {
		return nil, rkverrors.NewClientError("increment or decrement would overflow")
	}
	g.Dict()[string(key)] = dict.String(strconv.FormatInt(next, 10))
	return resp.Integer(next), nil
}

func incrBy(sign int64) func(dict.Lockable, [][]byte) (resp.Value, error) {
	return func(d dict.Lockable, args [][]byte) (resp.Value, error) {
		return adjustInt(d, args[0], sign)
	}
}

func incrByArg(sign int64) func(dict.Lockable, [][]byte) (resp.Value, error) {
	return func(d dict.Lockable, args [][]byte) (resp.Value, error) {
		delta, err := argInt(args[1])
		if err != nil {
			return nil, err
		}
		return adjustInt(d, args[0], sign*delta)
	}
}
