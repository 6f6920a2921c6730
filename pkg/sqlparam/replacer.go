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

// Package sqlparam substitutes the :fromTime, :toTime, and :replicaId
// placeholders into a loader's SQL text.
package sqlparam

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	lerrors "github.com/signaldata/loaderengine/internal/errors"
	"github.com/signaldata/loaderengine/pkg/timewindow"
)

const timeLayout = "2006-01-02 15:04"

var (
	fromTimeRe  = regexp.MustCompile(`:fromTime\b`)
	toTimeRe    = regexp.MustCompile(`:toTime\b`)
	replicaIDRe = regexp.MustCompile(`:replicaId\b`)
)

// Replace substitutes :fromTime/:toTime (rendered as "YYYY-MM-DD HH:MM"
// in the loader's source timezone) and :replicaId (the given ordinal)
// into sql. Substitution is placeholder-bounded: each token is matched
// as a whole word, never inside a longer identifier.
func Replace(sql string, window timewindow.Window, timezoneOffsetHours int, replicaOrdinal int) (string, error) {
	hasFrom := fromTimeRe.MatchString(sql)
	hasTo := toTimeRe.MatchString(sql)
	if !hasFrom || !hasTo {
		return "", lerrors.New(lerrors.KindSQLMissingPlaceholder,
			fmt.Errorf("sql text must contain both :fromTime and :toTime"))
	}

	loc := time.FixedZone(fmt.Sprintf("UTC%+d", timezoneOffsetHours), timezoneOffsetHours*3600)
	fromStr := window.From.In(loc).Format(timeLayout)
	toStr := window.To.In(loc).Format(timeLayout)

	out := fromTimeRe.ReplaceAllString(sql, fromStr)
	out = toTimeRe.ReplaceAllString(out, toStr)
	out = replicaIDRe.ReplaceAllString(out, strconv.Itoa(replicaOrdinal))

	return out, nil
}
