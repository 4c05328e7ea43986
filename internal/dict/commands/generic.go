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
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"raftkv/internal/dict"
	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
)

func init() {
	registerWrite("DEL", AtLeast(1), cmdDel)
	registerWrite("FLUSHALL", Fixed(0), cmdFlushAll)
	registerWrite("RENAME", Fixed(2), cmdRename)
	registerWrite("RENAMENX", Fixed(2), cmdRenameNX)

	registerRead("EXISTS", AtLeast(1), cmdExists)
	registerRead("KEYS", Fixed(1), cmdKeys)
	registerRead("TYPE", Fixed(1), cmdType)
	registerRead("DBSIZE", Fixed(0), cmdDBSize)
	registerRead("SORT", AtLeast(1), cmdSort)
}

func cmdDel(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	deleted := 0
	for _, key := range args {
		if _, ok := g.Dict()[string(key)]; ok {
			delete(g.Dict(), string(key))
			deleted++
		}
	}
	return resp.Integer(deleted), nil
}

func cmdFlushAll(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	dct := g.Dict()
	for key := range dct {
		delete(dct, key)
	}
	return resp.OK, nil
}

func cmdRename(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	value, ok := g.Dict()[string(args[0])]
	if !ok {
		return nil, rkverrors.NewClientError("no such key")
	}
	delete(g.Dict(), string(args[0]))
	g.Dict()[string(args[1])] = value
	return resp.OK, nil
}

func cmdRenameNX(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Write()
	defer g.Release()
	value, ok := g.Dict()[string(args[0])]
	if !ok {
		return nil, rkverrors.NewClientError("no such key")
	}
	if _, taken := g.Dict()[string(args[1])]; taken {
		return resp.Integer(0), nil
	}
	delete(g.Dict(), string(args[0]))
	g.Dict()[string(args[1])] = value
	return resp.Integer(1), nil
}

func cmdExists(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	count := 0
	for _, key := range args {
		if _, ok := g.Dict()[string(key)]; ok {
			count++
		}
	}
	return resp.Integer(count), nil
}

func cmdKeys(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	values := resp.Array{}
	for key := range g.Dict() {
		if dict.Match(args[0], []byte(key)) {
			values = append(values, resp.BulkString(key))
		}
	}
	return values, nil
}

func cmdType(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	return resp.SimpleString(dict.TypeName(g.Dict()[string(args[0])])), nil
}

func cmdDBSize(d dict.Lockable, args [][]byte) (resp.Value, error) {
	g := d.Read()
	defer g.Release()
	return resp.Integer(len(g.Dict())), nil
}

// alphaCollator orders SORT ... ALPHA output. The Und (undetermined)
// language gives the root collation order, which is stable across
// locales and matches what replicas everywhere will produce.
var alphaCollator = collate.New(language.Und)

func cmdSort(d dict.Lockable, args [][]byte) (resp.Value, error) {
	var alpha, desc bool
	limitOffset, limitCount := int64(0), int64(-1)
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "ALPHA":
			alpha = true
		case "ASC":
		case "DESC":
			desc = true
		case "LIMIT":
			if i+2 >= len(args) {
				return nil, rkverrors.Syntax()
			}
			var err error
			if limitOffset, err = argInt(args[i+1]); err != nil {
				return nil, err
			}
			if limitCount, err = argInt(args[i+2]); err != nil {
				return nil, err
			}
			i += 2
		default:
			return nil, rkverrors.Syntax()
		}
	}

	g := d.Read()
	defer g.Release()
	var elems [][]byte
	switch obj := g.Dict()[string(args[0])].(type) {
	case nil:
	case dict.List:
		elems = append(elems, obj...)
	case dict.Set:
		for member := range obj {
			elems = append(elems, []byte(member))
		}
	default:
		return nil, rkverrors.WrongType()
	}

	if alpha {
		sort.Slice(elems, func(i, j int) bool {
			return alphaCollator.Compare(elems[i], elems[j]) < 0
		})
	} else {
		scores := make([]float64, len(elems))
		for i, elem := range elems {
			score, err := strconv.ParseFloat(string(elem), 64)
			if err != nil {
				return nil, rkverrors.NewClientError("One or more scores can't be converted into double")
			}
			scores[i] = score
		}
		sort.Sort(&byScore{elems: elems, scores: scores})
	}
	if desc {
		for i, j := 0, len(elems)-1; i < j; i, j = i+1, j-1 {
			elems[i], elems[j] = elems[j], elems[i]
		}
	}

	if limitOffset < 0 {
		limitOffset = 0
	}
	if limitOffset > int64(len(elems)) {
		limitOffset = int64(len(elems))
	}
	elems = elems[limitOffset:]
	if limitCount >= 0 && limitCount < int64(len(elems)) {
		elems = elems[:limitCount]
	}
	return bulkArray(elems), nil
}

type byScore struct {
	elems  [][]byte
	scores []float64
}

func (s *byScore) Len() int           { return len(s.elems) }
func (s *byScore) Less(i, j int) bool { return s.scores[i] < s.scores[j] }
func (s *byScore) Swap(i, j int) {
	s.elems[i], s.elems[j] = s.elems[j], s.elems[i]
	s.scores[i], s.scores[j] = s.scores[j], s.scores[i]
}
