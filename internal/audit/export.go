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

package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ExportFormat selects the serialization used by Export.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// Export writes matching events to w in the requested format.
func (t *Trail) Export(w io.Writer, format ExportFormat, opts QueryOptions) error {
	events := t.List(opts)
	switch format {
	case FormatJSON:
		return t.exportJSON(w, events)
	case FormatCSV:
		return t.exportCSV(w, events)
	default:
		return fmt.Errorf("audit: unsupported export format %q", format)
	}
}

func (t *Trail) exportJSON(w io.Writer, events []Event) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(events); err != nil {
		return fmt.Errorf("audit: encode JSON: %w", err)
	}
	t.logger.Info("exported audit trail", "format", "json", "count", strconv.Itoa(len(events)))
	return nil
}

func (t *Trail) exportCSV(w io.Writer, events []Event) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"ID", "Timestamp", "Type", "Detail", "Metadata"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("audit: write CSV header: %w", err)
	}
	for _, event := range events {
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.Format(time.RFC3339Nano),
			string(event.Type),
			event.Detail,
			flattenMetadata(event.Metadata),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("audit: write CSV row: %w", err)
		}
	}
	t.logger.Info("exported audit trail", "format", "csv", "count", strconv.Itoa(len(events)))
	return nil
}

func flattenMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + metadata[k]
	}
	return strings.Join(pairs, ";")
}
