package cli

import (
	"encoding/json"
	"fmt"
)

// JMap holds one pallocd resource (allocation, template, network, or job)
// decoded as a generic JSON mapping. Keeping it schemaless means the CLI
// prints whatever fields the server returns without tracking them here.
type JMap map[string]interface{}

// ID returns the resource id. Allocations and jobs carry uuids; template
// and network records are keyed by name and report an empty id.
func (j JMap) ID() string {
	if id, ok := j["id"]; ok {
		return id.(string)
	}
	return ""
}

// String renders the resource as compact json
func (j JMap) String() string {
	buf, err := json.Marshal(&j)
	if err != nil {
		return ""
	}
	return string(buf)
}

// Print writes the full json record, or just the id so listings pipe
// cleanly into further palloc invocations
func (j JMap) Print(json bool) {
	if json {
		fmt.Println(j)
	} else {
		fmt.Println(j.ID())
	}
}

// JMapSlice orders resources by id for stable listings
type JMapSlice []JMap

// Len returns the number of resources
func (js JMapSlice) Len() int {
	return len(js)
}

// Less orders resources by id
func (js JMapSlice) Less(i, j int) bool {
	return js[i].ID() < js[j].ID()
}

// Swap exchanges two resources
func (js JMapSlice) Swap(i, j int) {
	js[i], js[j] = js[j], js[i]
}
