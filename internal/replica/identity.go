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

// Package replica derives a stable, process-lifetime identity used
// wherever the system needs to record "who holds this" — lock leases,
// load history rows.
package replica

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"
)

// Identifier derives and memoises a replica name for the life of the
// Identifier value — callers construct exactly one at process startup
// and pass it down, per the root-object wiring pattern.
type Identifier struct {
	nameEnv string

	once sync.Once
	name string
}

// New builds an Identifier. nameEnv, if non-empty, names the
// environment variable that overrides replica identity when set and
// non-blank.
func New(nameEnv string) *Identifier {
	return &Identifier{nameEnv: nameEnv}
}

// Name returns the replica's stable name, deriving it on first call.
func (id *Identifier) Name() string {
	id.once.Do(func() {
		id.name = derive(id.nameEnv)
	})
	return id.name
}

func derive(nameEnv string) string {
	if nameEnv != "" {
		if v := os.Getenv(nameEnv); v != "" {
			return v
		}
	}
	host, err := os.Hostname()
	if err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("%s-%d-%d", host, time.Now().UnixNano(), rand.Int63())
}
