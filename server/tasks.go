package server

import (
	"context"
	"log"
	"strings"
	"sync"

	raven "github.com/getsentry/raven-go"

	"github.com/motmot-data/motmot/meta"
	"github.com/motmot-data/motmot/util"
)

// The slow workspace operations run as background tasks so the API can
// answer right away. A task names a workspace already transitioned into the
// matching working state; the worker does the work and transitions it out.

type taskKind int

const (
	taskInit taskKind = iota
	taskScan
	taskCommit
	taskDelete
)

type task struct {
	kind      taskKind
	workspace int64
}

func (s *RESTServer) queueTask(t task) {
	select {
	case s.taskqueue <- t:
	case <-s.taskstop:
	}
}

// requeueTasks scans for workspaces left in a working state by an earlier
// process and queues their tasks again.
func (s *RESTServer) requeueTasks() {
	for _, ws := range s.Registry.ListWorkspaces("", "", false) {
		var kind taskKind
		switch ws.State {
		case meta.StateInitializing:
			kind = taskInit
		case meta.StateScanning:
			kind = taskScan
		case meta.StateCommitting:
			kind = taskCommit
		case meta.StateDeleting:
			kind = taskDelete
		default:
			continue
		}
		log.Printf("Requeueing %s workspace %d", ws.State, ws.ID)
		go s.queueTask(task{kind: kind, workspace: ws.ID})
	}
}

func (s *RESTServer) taskWorker() {
	defer s.taskwg.Done()
	// Storage calls made by tasks are cancelled when the server stops, so
	// a wedged backend cannot hold up shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.taskstop
		cancel()
	}()
	for {
		var t task
		select {
		case t = <-s.taskqueue:
		case <-s.taskstop:
			return
		}
		var err error
		switch t.kind {
		case taskInit:
			err = s.Registry.SetState(t.workspace, meta.StateReady)
		case taskScan:
			err = s.doScan(ctx, t.workspace)
		case taskCommit:
			err = s.Registry.Commit(ctx, t.workspace, s.Backend, s.GlobalLocation)
		case taskDelete:
			err = s.doDelete(ctx, t.workspace)
		}
		if err != nil {
			log.Printf("task on workspace %d: %s", t.workspace, err)
			if meta.KindOf(err) == meta.KindBackend {
				raven.CaptureError(err, nil)
			}
		}
	}
}

// doScan verifies the workspace's uncommitted content against the recorded
// checksums. Committed content is immutable and is not rechecked here. Any
// mismatch or unreadable object leaves the workspace INVALID.
func (s *RESTServer) doScan(ctx context.Context, wsID int64) error {
	ws, err := s.Registry.Workspace(wsID)
	if err != nil {
		return err
	}
	files, err := s.Registry.FileList(wsID, false)
	if err != nil {
		return err
	}
	ok := true
	for _, e := range files {
		u := e.URL()
		if u == "" || !strings.HasPrefix(u, ws.DataLocation) {
			continue
		}
		goal, _ := e.Payload[meta.KeyChecksum].(string)
		rc, _, err := s.Backend.Download(ctx, u)
		if err != nil {
			log.Printf("scan ws %d: open %s: %s", wsID, u, err)
			ok = false
			continue
		}
		match, err := util.VerifyStream(rc, goal)
		rc.Close()
		if err != nil {
			log.Printf("scan ws %d: read %s: %s", wsID, u, err)
			ok = false
		} else if !match {
			log.Printf("scan ws %d: checksum mismatch on %s", wsID, u)
			ok = false
		}
	}
	if !ok {
		return s.Registry.SetState(wsID, meta.StateInvalid)
	}
	return s.Registry.SetState(wsID, meta.StateReady)
}

// deleteGate bounds the number of parallel object removals per workspace
// delete.
var deleteGate = util.NewGate(8)

// doDelete removes the workspace and then its uncommitted content from the
// backend. Content removal is best effort, an object that will not delete
// does not resurrect the workspace.
func (s *RESTServer) doDelete(ctx context.Context, wsID int64) error {
	urls, err := s.Registry.DeleteWorkspace(wsID)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, u := range urls {
		deleteGate.Enter()
		wg.Add(1)
		go func(u string) {
			defer deleteGate.Leave()
			defer wg.Done()
			if err := s.Backend.Delete(ctx, u); err != nil {
				log.Printf("delete ws %d: remove %s: %s", wsID, u, err)
			}
		}(u)
	}
	wg.Wait()
	return nil
}
