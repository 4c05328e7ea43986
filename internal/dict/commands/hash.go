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
	"raftkv/internal/dict"
	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
)

func init() {
	registerWrite("HSET", AtLeast(3), cmdHSet)
	registerWrite("HDEL", AtLeast(2), cmdHDel)

	registerRead("HGET", Fixed(2), cmdHGet)
	registerRead("HGETALL", Fixed(1), cmdHGetAll)
	registerRead("HEXISTS", Fixed(2), cmdHExists)
	registerRead("HLEN", Fixed(1), cmdHLen)
	registerRead("HMGET", AtLeast(2), cmdHMGet)
	registerRead("HKEYS", Fixed(1), hashFieldsCmd(true))
	registerRead("HVALS", Fixed(1), hashFieldsCmd(false))
}

func cmdHSet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	if len(args[1:])%2 != 0 {
		return nil, rkverrors.WrongArity("hset")
	}
	g := d.Write()
	defer g.Release()
	h, ok, err := typedLookup[dict.Hash](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		h = make(dict.Hash)
		g.Dict()[string(args[0])] = h
	}
	added := 0
	for i := 1; i < len(args); i += 2 {
		if _, exists := h[string(args[i])]; !exists {
			added++
		}
		h[string(args[i])] = args[i+1]
	}
	return resp.Integer(added), nil
}

func cmdHDel(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	h, ok, err := typedLookup[dict.Hash](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Integer(0), nil
	}
	deleted := 0
	for _, field := range args[1:] {
		if _, exists := h[string(field)]; exists {
			delete(h, string(field))
			deleted++
		}
	}
	if len(h) == 0 {
		delete(g.Dict(), string(args[0]))
	}
	return resp.Integer(deleted), nil
}

func cmdHGet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	h, _, err := typedLookup[dict.Hash](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	value, ok := h[string(args[1])]
	if !ok {
		return resp.Null{}, nil
	}
	return resp.BulkString(value), nil
}

func cmdHGetAll(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	h, _, err := typedLookup[dict.Hash](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	values := make(resp.Array, 0, 2*len(h))
	for field, value := range h {
		values = append(values, resp.BulkString(field), resp.BulkString(value))
	}
	return values, nil
}

func cmdHExists(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	h, _, err := typedLookup[dict.Hash](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if _, ok := h[string(args[1])]; ok {
		return resp.Integer(1), nil
	}
	return resp.Integer(0), nil
}

func cmdHLen(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	h, _, err := typedLookup[dict.Hash](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	return resp.Integer(len(h)), nil
}

func cmdHMGet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	h, _, err := typedLookup[dict.Hash](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	values := make(resp.Array, len(args)-1)
	for i, field := range args[1:] {
		if value, ok := h[string(field)]; ok {
			values[i] = resp.BulkString(value)
		} else {
			values[i] = resp.Null{}
		}
	}
	return values, nil
}

func hashFieldsCmd(keys bool) func(dict.Lockable, [][]byte) (resp.Value, error) {
	return func(d dict.Lockable, args [][]byte) (resp.Value, error) {
		g := d.Read()
		defer g.Release()
		h, _, err := typedLookup[dict.Hash](g.Dict(), args[0])
		if err != nil {
			return nil, err
		}
		values := make(resp.Array, 0, len(h))
		for field, value := range h {
			if keys {
				values = append(values, resp.BulkString(field))
			} else {
				values = append(values, resp.BulkString(value))
			}
		}
		return values, nil
	}
}
