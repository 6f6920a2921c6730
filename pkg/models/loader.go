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

// Package models holds the plain entity structs persisted under the
// `loader` schema.
package models

import "time"

type LoadStatus string

const (
	LoadStatusIdle    LoadStatus = "IDLE"
	LoadStatusRunning LoadStatus = "RUNNING"
	LoadStatusFailed  LoadStatus = "FAILED"
	LoadStatusPaused  LoadStatus = "PAUSED"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

type PurgeStrategy string

const (
	PurgeFailOnDuplicate PurgeStrategy = "FAIL_ON_DUPLICATE"
	PurgeAndReload       PurgeStrategy = "PURGE_AND_RELOAD"
	PurgeSkipDuplicates  PurgeStrategy = "SKIP_DUPLICATES"
)

// Loader is the scheduling/windowing definition for one recurring
// extraction job.
type Loader struct {
	ID               int64  `db:"id"`
	LoaderCode       string `db:"loader_code"`
	LoaderSQL        string `db:"loader_sql"` // encrypted at rest
	SourceDatabaseID int64  `db:"source_database_id"`

	LoadStatus     LoadStatus     `db:"load_status"`
	Enabled        bool           `db:"enabled"`
	ApprovalStatus ApprovalStatus `db:"approval_status"`

	MinIntervalSeconds    int `db:"min_interval_seconds"`
	MaxIntervalSeconds    int `db:"max_interval_seconds"`
	MaxQueryPeriodSeconds int `db:"max_query_period_seconds"`
	MaxParallelExecutions int `db:"max_parallel_executions"`

	LastLoadTimestamp        *time.Time `db:"last_load_timestamp"`
	SourceTimezoneOffsetHours int       `db:"source_timezone_offset_hours"`
	AggregationPeriodSeconds *int       `db:"aggregation_period_seconds"`

	PurgeStrategy PurgeStrategy `db:"purge_strategy"`

	FailedSince              *time.Time `db:"failed_since"`
	ConsecutiveZeroRecordRuns int64     `db:"consecutive_zero_record_runs"`

	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	CreatedBy      string     `db:"created_by"`
	UpdatedBy      string     `db:"updated_by"`
	ApprovedBy     *string    `db:"approved_by"`
	ApprovedAt     *time.Time `db:"approved_at"`
	RejectedBy     *string    `db:"rejected_by"`
	RejectedAt     *time.Time `db:"rejected_at"`
	RejectionReason *string   `db:"rejection_reason"`
}

// Eligible reports whether l is a candidate the scheduler's dispatch
// tick may consider: enabled, approved, and not RUNNING/PAUSED.
func (l *Loader) Eligible() bool {
	if !l.Enabled {
		return false
	}
	if l.ApprovalStatus != ApprovalApproved {
		return false
	}
	return l.LoadStatus == LoadStatusIdle || l.LoadStatus == LoadStatusFailed
}
