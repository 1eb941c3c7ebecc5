// Copyright 2020-2024 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package state

import "errors"

var (
	// ErrStructuralMismatch reported when before/after snapshots are
	// incompatible in a way the change detector cannot reconcile
	ErrStructuralMismatch = errors.New("snapshot structure cannot be reconciled")

	// ErrSerialization reported when an entity cannot be canonically encoded
	ErrSerialization = errors.New("entity cannot be canonically encoded")
)
