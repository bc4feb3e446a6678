/*
 *
 * Copyright 2025 shmipc authors.
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
 *
 */

package procmgr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// Status is a snapshot written for external tooling (e.g. an operator
// dashboard) to observe which instance currently holds a role, without
// that tooling having to attach to any shared-memory segment itself.
type Status struct {
	Instance  int    `json:"instance"`
	Name      string `json:"name"`
	PID       int    `json:"pid"`
	Role      string `json:"role"`
	UpdatedAt int64  `json:"updated_at"`
}

// WriteStatusFile durably writes status as JSON to path. It uses
// atomic.WriteFile (write-to-temp-then-rename) so a concurrent reader
// never observes a partially written file, the same technique
// `calvinalkan-agent-task` uses for its own cache and ticket files.
func WriteStatusFile(path string, status Status) error {
	buf, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("procmgr: marshal status: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("procmgr: write status file %q: %w", path, err)
	}
	return nil
}

// ReadStatusFile reads back a status file written by WriteStatusFile.
func ReadStatusFile(path string) (Status, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Status{}, fmt.Errorf("procmgr: read status file %q: %w", path, err)
	}
	var s Status
	if err := json.Unmarshal(buf, &s); err != nil {
		return Status{}, fmt.Errorf("procmgr: decode status file %q: %w", path, err)
	}
	return s, nil
}
