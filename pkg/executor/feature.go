package executor

import (
	"crypto/md5"
	"encoding/hex"
)

// Feature is a self-contained Starlark program. It must define one entry
// function taking the dataset as its only parameter; Imports lists the
// modules the program is allowed to load.
type Feature struct {
	Source  string   `json:"source"`
	Imports []string `json:"imports,omitempty"`
}

// Hash is the registration content hash: the md5 hex digest of the source.
func (f Feature) Hash() string {
	return ContentHash(f.Source)
}

func ContentHash(code string) string {
	sum := md5.Sum([]byte(code))
	return hex.EncodeToString(sum[:])
}
