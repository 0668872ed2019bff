// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import "errors"

// ErrNoApp is returned when a transaction has no application name. Samples
// without a partition key cannot be harvested and are rejected outright.
var ErrNoApp = errors.New("transaction missing application name")

// Classify reports whether a transaction qualifies for guaranteed retention.
// Only probe-origin work (scripted synthetic monitors) qualifies; everything
// else stays on the regular sampling path. It defaults to not-probe if any
// uncertainty exists.
func Classify(t *Transaction) (bool, error) {
	if t == nil || t.AppName == "" {
		return false, ErrNoApp
	}
	// Probe provenance requires the resource id; monitor/job ids alone are not
	// trusted (backends have sent stray job ids on regular traffic).
	if t.ResourceID == "" {
		return false, nil
	}
	return true, nil
}
