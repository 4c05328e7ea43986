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
)

func init() {
	registerWrite("SADD", AtLeast(2), cmdSAdd)
	registerWrite("SREM", AtLeast(2), cmdSRem)

	registerRead("SMEMBERS", Fixed(1), cmdSMembers)
	registerRead("SISMEMBER", Fixed(2), cmdSIsMember)
	registerRead("SCARD", Fixed(1), cmdSCard)
}

func cmdSAdd(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	s, ok, err := typedLookup[dict.Set](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		s = make(dict.Set)
		g.Dict()[string(args[0])] = s
	}
	added := 0
	for _, member := range args[1:] {
		if _, exists := s[string(member)]; !exists {
			s[string(member)] = struct{}{}
			added++
		}
	}
	return resp.Integer(added), nil
}

func cmdSRem(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	s, ok, err := typedLookup[dict.Set](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Integer(0), nil
	}
	removed := 0
	for _, member := range args[1:] {
		if _, exists := s[string(member)]; exists {
			delete(s, string(member))
			removed++
		}
	}
	if len(s) == 0 {
		delete(g.Dict(), string(args[0]))
	}
	return resp.Integer(removed), nil
}

func cmdSMembers(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	s, _, err := typedLookup[dict.Set](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	values := make(resp.Array, 0, len(s))
	for member := range s {
		values = append(values, resp.BulkString(member))
	}
	return values, nil
}

func cmdSIsMember(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	s, _, err := typedLookup[dict.Set](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	if _, ok := s[string(args[1])]; ok {
		return resp.Integer(1), nil
	}
	return resp.Integer(0), nil
}

func cmdSCard(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	s, _, err := typedLookup[dict.Set](g.Dict(), args[0])
	if err != nil {
		return nil, err
	}
	return resp.Integer(len(s)), nil
}
