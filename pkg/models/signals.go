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

// SignalsHistory is one ingested aggregate row in the destination
// monitoring store.
type SignalsHistory struct {
	LoaderCode    string   `db:"loader_code"`
	LoadTimeStamp int64    `db:"load_time_stamp"` // epoch seconds
	SegmentCode   string   `db:"segment_code"`    // string form of the integer code
	RecCount      *float64 `db:"rec_count"`
	MaxVal        *float64 `db:"max_val"`
	MinVal        *float64 `db:"min_val"`
	AvgVal        *float64 `db:"avg_val"`
	SumVal        *float64 `db:"sum_val"`

	CreateTime time.Time `db:"create_time"`
}

// SegmentDictionary maps one loader-scoped 10-tuple of segment values to
// a dense integer code.
type SegmentDictionary struct {
	ID          int64   `db:"id"`
	LoaderCode  string  `db:"loader_code"`
	Seg1        *string `db:"seg1"`
	Seg2        *string `db:"seg2"`
	Seg3        *string `db:"seg3"`
	Seg4        *string `db:"seg4"`
	Seg5        *string `db:"seg5"`
	Seg6        *string `db:"seg6"`
	Seg7        *string `db:"seg7"`
	Seg8        *string `db:"seg8"`
	Seg9        *string `db:"seg9"`
	Seg10       *string `db:"seg10"`
	SegmentCode int64   `db:"segment_code"`
}

// SegmentTuple is the 10 nullable segment values resolved from one
// source row, before a code has been assigned.
type SegmentTuple [10]*string
