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

type HistoryStatus string

const (
	HistoryRunning HistoryStatus = "RUNNING"
	HistorySuccess HistoryStatus = "SUCCESS"
	HistoryFailed  HistoryStatus = "FAILED"
)

// LoadHistory is one append-only execution-log row.
type LoadHistory struct {
	ID                 int64         `db:"id"`
	LoaderCode         string        `db:"loader_code"`
	SourceDatabaseCode string        `db:"source_database_code"`
	ReplicaName        string        `db:"replica_name"`
	StartTime          time.Time     `db:"start_time"`
	EndTime            *time.Time    `db:"end_time"`
	DurationSeconds    *float64      `db:"duration_seconds"`
	QueryFromTime      *time.Time    `db:"query_from_time"`
	QueryToTime        *time.Time    `db:"query_to_time"`
	Status             HistoryStatus `db:"status"`
	RecordsLoaded      int64         `db:"records_loaded"`
	RecordsIngested    int64         `db:"records_ingested"`
	ErrorMessage       *string       `db:"error_message"`
	CreatedAt          time.Time     `db:"created_at"`
}
