// Package session implements the progress-file model (§4 Supplemented
// features): one scan session is tracked on disk through three files,
// {sid}_list, {sid}_status and {sid}_data, each guarded by an exclusive
// advisory lock so concurrent writers wait rather than corrupt state.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Running is a handle onto one session id's progress files under dir.
type Running struct {
	Dir string
	SID string
}

// New returns a Running handle rooted at dir for sid.
func New(dir, sid string) *Running {
	return &Running{Dir: dir, SID: sid}
}

func (r *Running) path(suffix string) string {
	return filepath.Join(r.Dir, fmt.Sprintf("%s_%s", r.SID, suffix))
}

// ListState is the {sid}_list file's shape: the set of child session ids
// spawned for a multi-target scan and the total target count.
type ListState struct {
	SIDs           map[string]string `json:"sids"`
	TotalTargetNum int               `json:"total_target_num"`
}

// InitList creates the {sid}_list file if it does not already exist,
// recording the total number of targets this session will cover.
func (r *Running) InitList(totalTargets int) error {
	path := r.path("list")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	state := ListState{SIDs: map[string]string{}, TotalTargetNum: totalTargets}
	return writeLocked(path, state)
}

// List reads the current {sid}_list state.
func (r *Running) List() (ListState, error) {
	var state ListState
	err := readLocked(r.path("list"), &state)
	return state, err
}

// SetChildSID records childSID's status against this session's list, for
// example "running" or "done", merging into whatever is already on disk.
func (r *Running) SetChildSID(childSID, status string) error {
	path := r.path("list")
	return updateLocked(path, func(raw []byte) ([]byte, error) {
		state := ListState{SIDs: map[string]string{}}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &state); err != nil {
				return nil, err
			}
			if state.SIDs == nil {
				state.SIDs = map[string]string{}
			}
		}
		state.SIDs[childSID] = status
		return json.Marshal(state)
	})
}

// Status reads the {sid}_status file's free-form progress payload.
func (r *Running) Status(out interface{}) error {
	return readLocked(r.path("status"), out)
}

// SetStatus overwrites the {sid}_status file.
func (r *Running) SetStatus(v interface{}) error {
	return writeLocked(r.path("status"), v)
}

// ScanResult is the {sid}_data envelope a finished scan writes (§4
// Supplemented features, grounded on the original engine's completion
// payload: code 1001, msg "scan finished").
type ScanResult struct {
	Code   int        `json:"code"`
	Msg    string     `json:"msg"`
	Result ScanDetail `json:"result"`
}

// ScanDetail is the result payload's body.
type ScanDetail struct {
	Vulnerabilities  interface{} `json:"vulnerabilities"`
	Language         string      `json:"language"`
	Framework        string      `json:"framework"`
	ExtensionCount   int         `json:"extension"`
	FileCount        int         `json:"file"`
	PushRules        int         `json:"push_rules"`
	TriggerRules     int         `json:"trigger_rules"`
	TargetDirectory  string      `json:"target_directory"`
}

// Data reads the {sid}_data file.
func (r *Running) Data(out interface{}) error {
	return readLocked(r.path("data"), out)
}

// SetData overwrites the {sid}_data file with the finished scan's result
// envelope, serialized with encoding/json (struct fields in declaration
// order, map keys sorted).
func (r *Running) SetData(v interface{}) error {
	return writeLocked(r.path("data"), v)
}

// HasFile reports whether the status or data progress file already
// exists for this session.
func (r *Running) HasFile(isData bool) bool {
	suffix := "status"
	if isData {
		suffix = "data"
	}
	_, err := os.Stat(r.path(suffix))
	return err == nil
}
