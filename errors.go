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

package batchloader

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrKeyNotFound is wrapped by the error LookupRequired returns when a
	// key is absent from a bulk function's result.
	ErrKeyNotFound = errors.New("batchloader: key not found")

	// ErrScopeMisuse is returned by ImmediateScope.End when scopes are
	// closed out of LIFO order.
	ErrScopeMisuse = errors.New("batchloader: immediate scope ended out of order")

	// ErrBulkFunctionFailure wraps any error or panic raised by a
	// caller-supplied bulk lookup function during a flush.
	ErrBulkFunctionFailure = errors.New("batchloader: bulk lookup function failed")
)

// NotFoundErrorFactory builds the error LookupRequired surfaces when a key
// is missing from a bulk function's result. Override it on a LookupManager
// (SetNotFoundErrorFactory) to shape that error for your domain — e.g. to
// return a typed not-found error your HTTP layer knows how to translate.
type NotFoundErrorFactory func(key any, typeTag string) error

func defaultNotFoundError(key any, typeTag string) error {
	if typeTag == "" {
		return fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	return fmt.Errorf("%w: %s %v", ErrKeyNotFound, typeTag, key)
}

func typeTagOf[V any]() string {
	var zero V
	t := reflect.TypeOf(zero)
	if t == nil {
		return ""
	}
	return t.String()
}
