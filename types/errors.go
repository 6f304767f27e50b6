/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for nil predicates, empty selectors,
	// negative skip counts and non-positive take counts. It is always
	// reported before any database interaction.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvariantViolation reports an operation that cannot be carried out
	// for the entity type, e.g. an upsert without a determinable key or a
	// restore on a type without soft-delete support.
	ErrInvariantViolation = errors.New("invariant violation")
)

// InvalidArgument wraps ErrInvalidArgument with a formatted reason.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// InvariantViolation wraps ErrInvariantViolation with a formatted reason.
func InvariantViolation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
