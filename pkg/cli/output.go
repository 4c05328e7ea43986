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
	"strconv"
	"strings"

	"raftkv/internal/resp"
)

// FormatReply renders a server reply the way redis-cli does: nil and
// empty arrays dimmed, integers tagged, bulk strings quoted so binary
// content survives the terminal, nested arrays indented with 1-based
// indexes.
func FormatReply(value resp.Value, indent string) string {
	switch v := value.(type) {
	case resp.Null:
		return indent + Dimmed("(nil)") + "\n"
	case resp.SimpleString:
		return indent + string(v) + "\n"
	case resp.BulkString:
		return indent + strconv.Quote(string(v)) + "\n"
	case resp.Integer:
		return indent + "(integer) " + strconv.FormatInt(int64(v), 10) + "\n"
	case resp.Error:
		return indent + Error("(error) "+v.Err.Error()) + "\n"
	case resp.Array:
		if len(v) == 0 {
			return indent + Dimmed("(empty array)") + "\n"
		}
		var b strings.Builder
		for i, child := range v {
			prefix := fmt.Sprintf("%s%d) ", indent, i+1)
			rendered := FormatReply(child, "")
			if childArr, ok := child.(resp.Array); ok && len(childArr) > 0 {
				b.WriteString(prefix + "\n" + FormatReply(child, indent+"   "))
				continue
			}
			b.WriteString(prefix + strings.TrimPrefix(rendered, indent))
		}
		return b.String()
	default:
		return indent + fmt.Sprintf("%v", v) + "\n"
	}
}
