package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"path/filepath"
	"sync"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/motmot-data/motmot/meta"
	"github.com/motmot-data/motmot/store"
)

// Version is the version of the running server. It is set at build time.
var Version = "devel"

// RESTServer holds the configuration for a motmot REST API server.
//
// Set the public fields and then call Run. Run will listen on the given
// port and handle requests until Stop is called. Do not change any fields
// after calling Run.
//
// Run also starts a pool of background workers which carry out the slow
// workspace operations, namely scans, commits, and deletes.
type RESTServer struct {
	// PortNumber is the port to listen on. Defaults to 14000.
	PortNumber string
	PProfPort  string

	// Registry holds all workspace and metadata state. Run will panic if
	// Registry is nil.
	Registry *meta.Registry

	// Backend stores file content. Run will panic if Backend is nil.
	Backend store.Backend

	// WorkspaceLocation is the area in Backend where workspaces keep
	// uncommitted content. GlobalLocation is where committed content
	// lives. They must be distinct.
	WorkspaceLocation string
	GlobalLocation    string

	// CacheDir is a scratch directory. When MySQL is unset, the internal
	// QL database is placed here; with an empty CacheDir it is kept in
	// memory.
	CacheDir string

	// MySQL is the dial string of a MySQL server to keep the committed
	// entry cache in, e.g. "user:password@tcp(localhost:3306)/motmot".
	// Leave empty to use the internal QL database.
	MySQL string

	// Validator decodes API tokens. If nil, no authentication is done
	// and everyone is an admin named "nobody".
	Validator TokenDecoder

	server    httpdown.Server
	taskqueue chan task
	taskwg    sync.WaitGroup
	taskstop  chan struct{}
}

// MaxConcurrentTasks is the number of background workspace operations that
// may run at once. Further ones wait in the queue.
const MaxConcurrentTasks = 2

// Run starts the background workers and then blocks listening for and
// handling HTTP requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting motmot server version %s", Version)
	if s.Registry == nil {
		panic("no registry given. Registry is nil.")
	}
	if s.Backend == nil {
		panic("no storage given. Backend is nil.")
	}
	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewNobodyDecoder()
	}

	var cache meta.EntryCache
	if s.MySQL != "" {
		log.Printf("Using MySQL")
		mc, err := NewMysqlCache(s.MySQL)
		if err != nil {
			return err
		}
		cache = mc
	} else {
		path := "memory"
		if s.CacheDir != "" {
			path = filepath.Join(s.CacheDir, "motmot.ql")
		}
		log.Printf("Using internal database at %s", path)
		cache = NewQlCache(path)
	}
	if cache == nil {
		panic("problem setting up the entry cache database")
	}
	s.Registry.SetCache(cache)

	log.Println("Starting task workers")
	s.taskqueue = make(chan task, 100)
	s.taskstop = make(chan struct{})
	for i := 0; i < MaxConcurrentTasks; i++ {
		s.taskwg.Add(1)
		go s.taskWorker()
	}
	s.requeueTasks()

	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	log.Println("Listening on", s.PortNumber)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop shuts the server down and returns once the background workers have
// exited and the socket is closed.
func (s *RESTServer) Stop() error {
	close(s.taskstop)
	s.taskwg.Wait()
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed
		handler httprouter.Handle
	}{
		// workspace lifecycle
		{"GET", "/workspace", RoleMDOnly, s.ListWorkspacesHandler},
		{"POST", "/workspace", RoleWrite, s.CreateWorkspaceHandler},
		{"GET", "/workspace/:wsid", RoleMDOnly, s.WorkspaceHandler},
		{"DELETE", "/workspace/:wsid", RoleWrite, s.DeleteWorkspaceHandler},
		{"POST", "/workspace/:wsid/commit", RoleWrite, s.CommitHandler},
		{"POST", "/workspace/:wsid/scan", RoleWrite, s.ScanHandler},
		{"GET", "/workspace/:wsid/family", RoleMDOnly, s.ListFamiliesHandler},

		// files and their metadata, as seen from a workspace
		{"GET", "/workspace/:wsid/file", RoleMDOnly, s.ListFilesHandler},
		{"POST", "/workspace/:wsid/file", RoleWrite, s.UploadFileHandler},
		{"GET", "/workspace/:wsid/file/:fileid", RoleRead, s.FileHandler},
		{"HEAD", "/workspace/:wsid/file/:fileid", RoleRead, s.FileHandler},
		{"DELETE", "/workspace/:wsid/file/:fileid", RoleWrite, s.DeleteFileHandler},
		{"GET", "/workspace/:wsid/file/:fileid/metadata", RoleMDOnly, s.FileMetadataHandler},
		{"GET", "/workspace/:wsid/file/:fileid/metadata/:family", RoleMDOnly, s.FamilyMetadataHandler},
		{"PUT", "/workspace/:wsid/file/:fileid/metadata/:family", RoleWrite, s.UpdateMetadataHandler},

		// the committed, workspace-independent view
		{"GET", "/family", RoleMDOnly, s.GlobalFamiliesHandler},
		{"GET", "/file/:fileid", RoleRead, s.GlobalFileHandler},
		{"HEAD", "/file/:fileid", RoleRead, s.GlobalFileHandler},
		{"GET", "/file/:fileid/metadata", RoleMDOnly, s.GlobalMetadataHandler},

		// other
		{"GET", "/", RoleUnknown, WelcomeHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convenience functions

// VarHandler adapts the expvar default handler to the httprouter three
// parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// writeJSON sends val as the JSON response body.
func writeJSON(w http.ResponseWriter, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(val)
}

// writeError sends err with the HTTP status matching its kind.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch meta.KindOf(err) {
	case meta.KindValidation:
		status = http.StatusBadRequest
	case meta.KindPermission:
		status = http.StatusForbidden
	case meta.KindPrecondition:
		status = http.StatusPreconditionFailed
	case meta.KindNotFound:
		status = http.StatusNotFound
	case meta.KindConflict:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	fmt.Fprintln(w, err.Error())
}

// authzWrapper returns a handler which first verifies the request token as
// having at least the given role. The user name is added as the parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenDecode(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}
		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}
		ps = append(ps, httprouter.Param{Key: "username", Value: user},
			httprouter.Param{Key: "userrole", Value: roleName(role)})
		handler(w, r, ps)
	}
}

func roleName(r Role) string {
	switch r {
	case RoleMDOnly:
		return "mdonly"
	case RoleRead:
		return "read"
	case RoleWrite:
		return "write"
	case RoleAdmin:
		return "admin"
	}
	return "unknown"
}

// canTouch reports whether the request user may change the given workspace.
// Owners may change their own workspaces, admins anyone's.
func canTouch(ps httprouter.Params, owner string) bool {
	if ps.ByName("userrole") == "admin" {
		return true
	}
	return ps.ByName("username") == owner
}

// logWrapper takes a handler and returns a handler which does the same
// thing, after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}
