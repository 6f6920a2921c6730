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

// SourceDatabase describes one external, read-only source the loaders
// pull from.
type SourceDatabase struct {
	ID       int64  `db:"id"`
	DBCode   string `db:"db_code"`
	DBType   string `db:"db_type"` // POSTGRES, MYSQL, ORACLE, ...
	IP       string `db:"ip"`
	Port     int    `db:"port"`
	DBName   string `db:"db_name"`
	UserName string `db:"user_name"`
	Password string `db:"pass_word"` // encrypted at rest

	// Version changes whenever the connection parameters change, so
	// pkg/sourcepool can detect a stale pool and rebuild it lazily.
	Version int64 `db:"version"`
}
