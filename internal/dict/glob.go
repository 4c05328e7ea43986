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

package dict

// Match reports whether string matches the glob pattern used by KEYS:
// '*' any run, '?' any single byte, '[a-z]'/'[^abc]' classes, and
// backslash escapes. Bytewise, not UTF-8 aware, like the original C.
func Match(pattern, str []byte) bool {
	skipLongerMatches := false
	return matchImpl(pattern, str, &skipLongerMatches)
}

func matchImpl(pattern, str []byte, skipLongerMatches *bool) bool {
	p := 0
	for p < len(pattern) && len(str) > 0 {
		switch pattern[p] {
		case '*':
			for p+1 < len(pattern) && pattern[p+1] == '*' {
				p++
			}
			if p+1 == len(pattern) {
				return true
			}
			for len(str) > 0 {
				if matchImpl(pattern[p+1:], str, skipLongerMatches) {
					return true
				}
				if *skipLongerMatches {
					return false
				}
				str = str[1:]
			}
			*skipLongerMatches = true
			return false
		case '?':
			// any byte matches
		case '[':
			p++
			not := p < len(pattern) && pattern[p] == '^'
			if not {
				p++
			}
			matchFound := false
		class:
			for {
				switch {
				case p >= len(pattern):
					p--
					break class
				case pattern[p] == '\\' && p+2 < len(pattern):
					p++
					if pattern[p] == str[0] {
						matchFound = true
					}
				case pattern[p] == ']':
					break class
				case p+3 < len(pattern) && pattern[p+1] == '-':
					start, end := pattern[p], pattern[p+2]
					if start > end {
						start, end = end, start
					}
					p += 2
					if str[0] >= start && str[0] <= end {
						matchFound = true
					}
				case pattern[p] == str[0]:
					matchFound = true
				}
				p++
			}
			if not {
				matchFound = !matchFound
			}
			if !matchFound {
				return false
			}
		case '\\':
			if p+2 < len(pattern) {
				p++
			}
			if pattern[p] != str[0] {
				return false
			}
		default:
			if pattern[p] != str[0] {
				return false
			}
		}
		str = str[1:]
		p++
		if len(str) == 0 {
			for p < len(pattern) && pattern[p] == '*' {
				p++
			}
			break
		}
	}
	return p == len(pattern) && len(str) == 0
}
