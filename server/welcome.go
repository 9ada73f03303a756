package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// WelcomeHandler identifies the service. Useful as a liveness probe.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, map[string]string{
		"service": "motmot",
		"version": Version,
	})
}
