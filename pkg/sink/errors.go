// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package sink

import (
	"errors"
	"fmt"
)

// Fatal error codes surfaced to the connector framework. A fatal error
// stops the task; the framework decides whether to restart it.
const (
	ErrCodeIncompatibleTable = "5003"
	ErrCodeIncompatibleStage = "5004"
	ErrCodeIncompatiblePipe  = "5005"
	ErrCodeNoConnection      = "5010"
)

// FatalError is a non-retryable connector failure.
type FatalError struct {
	Code   string
	Detail string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal connector error %s: %s", e.Code, e.Detail)
}

func newFatalError(code, format string, args ...any) *FatalError {
	return &FatalError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err carries a fatal connector code.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
