/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package models

import "time"

// LoaderExecutionLock is one lease row claiming the right to run a
// loader.
type LoaderExecutionLock struct {
	ID          int64      `db:"id"`
	LoaderCode  string     `db:"loader_code"`
	ReplicaName string     `db:"replica_name"`
	AcquiredAt  time.Time  `db:"acquired_at"`
	Released    bool       `db:"released"`
	ReleasedAt  *time.Time `db:"released_at"`
}
