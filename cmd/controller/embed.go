package main

import _ "embed"

// embeddedConfig holds the default policy embedded at build time. Build
// scripts may overwrite embed_config.yaml with a device-specific policy
// before compiling.
//
//go:embed embed_config.yaml
var embeddedConfig []byte
