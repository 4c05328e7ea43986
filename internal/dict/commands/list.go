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
	registerWrite("RPUSH", AtLeast(2), pushCmd(false))
	registerWrite("LPUSH", AtLeast(2), pushCmd(true))
	registerWrite("RPOP", Fixed(1), popCmd(false))
	registerWrite("LPOP", Fixed(1), popCmd(true))
	registerWrite("LSET", Fixed(3), cmdLSet)

	registerRead("LRANGE", Fixed(3), cmdLRange)
	registerRead("LLEN", Fixed(1), cmdLLen)
	registerRead("LINDEX", Fixed(2), cmdLIndex)
}

func pushCmd(front bool) func(dict.Lockable, [][]byte) (resp.Value, error) {
	return func(d dict.Lockable, args [][]byte) (resp.Value, error) {
		g := d.Write()
		defer g.Release()
		l, _, err := typedLookup[dict.List](g.Dict(), args[0])
		if err != nil {
			return nil, err
		}
		for _, elem := range args[1:] {
			if front {
				l = append(dict.List{elem}, l...)
			} else {
				l = append(l, elem)
			}
		}
		g.Dict()[string(args[0])] = l
		return resp.Integer(len(l)), nil
	}
}

func popCmd(front bool) func(dict.Lockable, [][]byte) (resp.Value, error) {
	return func(d dict.Lockable, args [][]byte) (resp.Value, error) {
		g := d.Write()
		defer g.Release()
		l, ok, err := typedLookup[dict.List](g.Dict(), args[0])
		if err != nil {
			return nil, err
		}
		if !ok || len(l) == 0 {
			return resp.Null{}, nil
		}
		var elem []byte
		if front {
			elem, l = l[0], l[1:]
		} else {
			elem, l = l[len(l)-1], l[:len(l)-1]
		}
		if len(l) == 0 {
			delete(g.Dict(), string(args[0]))
		} else {
			g.Dict()[string(args[0])] = l
		}
		return resp.BulkString(elem), nil
	}
}

// resolveIndex converts a possibly negative client index to a slice
// offset; negative counts from the tail, -1 being the last element.
func resolveIndex(index int64, length int) int64 {
	if index < 0 {
		return int64(length) + index
	}
	return index
}

func cmdLRange(d dict.Lockable, args [][]byte) (resp.Value, error) {
	start, err := argInt(args[1])
	if err != nil {
		return nil, err
	}
	stop, err := argInt(args[2])
	if err != nil {
		return nil, err
	}
	g := d.Read()
	defer g.Release()
	l, _, err := typedLookup[dict.List](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	start = resolveIndex(start, len(l))
	stop = resolveIndex(stop, len(l))
	if start < 0 {
		start = 0
	}
	if stop >= int64(len(l)) {
		stop = int64(len(l)) - 1
	}
	if start > stop {
		return resp.Array{}, nil
	}
	return bulkArray(l[start : stop+1]), nil
}

func cmdLLen(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	l, _, err := typedLookup[dict.List](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	return resp.Integer(len(l)), nil
}

func cmdLIndex(d dict.Lockable, args [][]byte) (resp.Value, error) {
	index, err := argInt(args[1])
	if err != nil {
		return nil, err
	}
	g := d.Read()
	defer g.Release()
	l, _, err := typedLookup[dict.List](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	index = resolveIndex(index, len(l))
	if index < 0 || index >= int64(len(l)) {
		return resp.Null{}, nil
	}
	return resp.BulkString(l[index]), nil
}

func cmdLSet(d dict.Lockable, args [][]byte) (resp.Value, error) {
	index, err := argInt(args[1])
	if err != nil {
		return nil, err
	}
	g := d.Write()
	defer g.Release()
	l, ok, err := typedLookup[dict.List](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rkverrors.NewClientError("no such key")
	}
	index = resolveIndex(index, len(l))
	if index < 0 || index >= int64(len(l)) {
		return nil, rkverrors.NewClientError("index out of range")
	}
	l[index] = args[2]
	return resp.OK, nil
}
