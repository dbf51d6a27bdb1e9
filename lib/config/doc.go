// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the Switchboard daemon's YAML configuration.
//
// Configuration comes from a single file named by the --config flag
// (via [LoadFile]) or the SWITCHBOARD_CONFIG environment variable (via
// [Load]). There is no automatic discovery.
//
// The file may carry development and production sections that override
// base values when [Config].Environment matches. After overrides,
// ${HOME}, ${SWITCHBOARD_ROOT} and ${VAR:-default} patterns in path
// fields are expanded. [Config.Validate] reports every problem joined
// into one error.
//
// This package depends on no other Switchboard packages.
package config
