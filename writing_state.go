package datasaver

import (
	"fmt"
	"sync"
	"time"
)

// WritingStatus is a snapshot of a WritingState.
type WritingStatus struct {
	Active    bool
	Locked    bool
	Path      string
	SessionID string
	Started   time.Time
	Stopped   time.Time
	Writes    int
}

// WritingState monitors the state of file writing for one data file. A file
// gets exactly one write session; once it stops, the file stays locked.
type WritingState struct {
	status WritingStatus
	sync.Mutex
}

// IsActive will return whether a session is writing, with proper locking
func (ws *WritingState) IsActive() bool {
	ws.Lock()
	defer ws.Unlock()
	return ws.status.Active
}

// IsLocked will return whether the file's session has finished
func (ws *WritingState) IsLocked() bool {
	ws.Lock()
	defer ws.Unlock()
	return ws.status.Locked
}

// ComputeState will return a copy of the current status.
func (ws *WritingState) ComputeState() WritingStatus {
	ws.Lock()
	defer ws.Unlock()
	return ws.status
}

// Start will set the WritingState to begin a session, unless one is active
// or the file is locked.
func (ws *WritingState) Start(path, sessionID string) error {
	ws.Lock()
	defer ws.Unlock()
	if ws.status.Locked {
		return fmt.Errorf("was opened during a previous session and can no longer be written into")
	}
	if ws.status.Active {
		return fmt.Errorf("session %s is already active", ws.status.SessionID)
	}
	ws.status = WritingStatus{Active: true, Path: path, SessionID: sessionID, Started: time.Now()}
	return nil
}

// Cancel will undo a Start whose session never opened the file.
func (ws *WritingState) Cancel() {
	ws.Lock()
	defer ws.Unlock()
	ws.status = WritingStatus{Path: ws.status.Path}
}

// Stop will end the session and lock the file for good.
func (ws *WritingState) Stop() {
	ws.Lock()
	defer ws.Unlock()
	ws.status.Active = false
	ws.status.Locked = true
	ws.status.Stopped = time.Now()
}

func (ws *WritingState) countWrite() {
	ws.Lock()
	defer ws.Unlock()
	ws.status.Writes++
}
