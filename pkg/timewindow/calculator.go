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

// Package timewindow computes the half-open [from, to) interval a
// loader's next execution should pull, covering first-run, catch-up,
// up-to-date, and clock-skew cases.
package timewindow

import (
	"fmt"
	"time"

	"github.com/signaldata/loaderengine/pkg/models"
)

// Window is the half-open interval [From, To) one execution covers.
type Window struct {
	From time.Time
	To   time.Time
}

// Empty reports whether the window would pull zero new data because the
// loader is already caught up within the same instant.
func (w Window) Empty() bool {
	return !w.To.After(w.From)
}

// Calculator computes windows against an injectable clock so tests can
// control "now" deterministically.
type Calculator struct {
	Now           func() time.Time
	LookbackHours int
}

// New builds a Calculator using the real wall clock and the given
// default lookback (config: executor.defaultLookbackHours).
func New(lookbackHours int) *Calculator {
	return &Calculator{
		Now:           time.Now,
		LookbackHours: lookbackHours,
	}
}

// Calculate computes the next window for loader, per the time-window
// algorithm: clamp a missing or future watermark to now-lookback, then
// cap the window length at maxQueryPeriodSeconds and at now.
func (c *Calculator) Calculate(loader *models.Loader) (Window, error) {
	if loader == nil {
		return Window{}, fmt.Errorf("loader must not be nil")
	}
	if loader.MaxQueryPeriodSeconds <= 0 {
		return Window{}, fmt.Errorf("maxQueryPeriodSeconds must be greater than 0")
	}

	now := c.Now()

	candidate := loader.LastLoadTimestamp
	if candidate == nil || candidate.After(now) {
		lookedBack := now.Add(-time.Duration(c.LookbackHours) * time.Hour)
		candidate = &lookedBack
	}

	from := *candidate
	capByPeriod := from.Add(time.Duration(loader.MaxQueryPeriodSeconds) * time.Second)
	to := capByPeriod
	if now.Before(to) {
		to = now
	}

	return Window{From: from, To: to}, nil
}
