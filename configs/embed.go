// Package configs embeds the annotated default configuration template
// so `pampax config init` works the same from a source build or a
// release binary.
package configs

import _ "embed"

// DefaultTemplate is the commented starter config written by
// `pampax config init`. It mirrors config.Default(); the comments are
// the reason it exists as a file rather than a yaml.Marshal of the
// defaults.
//
//go:embed default.yaml
var DefaultTemplate []byte
