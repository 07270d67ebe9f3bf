package manifest

import (
	"encoding/json"
	"fmt"
)

// Listener is a callback function that receives events during the build process.
type Listener func(fmt.Stringer)

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventEntriesCollected is emitted once the payload entries of a package are
// known, before parent directories are synthesized.
type EventEntriesCollected struct {
	Package     string `json:"package,omitempty"`
	Files       int    `json:"files,omitempty"`
	Directories int    `json:"directories,omitempty"`
	Symlinks    int    `json:"symlinks,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
}

func (e EventEntriesCollected) String() string { return jsonString(e) }

// EventPackageBuilt is emitted when a package has been written.
type EventPackageBuilt struct {
	Package      string `json:"package,omitempty"`
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Filename     string `json:"filename,omitempty"`
	Compression  string `json:"compression,omitempty"`
	Signed       bool   `json:"signed,omitempty"`
}

func (e EventPackageBuilt) String() string { return jsonString(e) }
