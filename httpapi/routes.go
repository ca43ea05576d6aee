package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up every HTTP route for the control-plane API.
func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/append", h.Append).Methods("POST")
	r.HandleFunc("/ack", h.Ack).Methods("POST")
	r.HandleFunc("/update", h.Update).Methods("POST")
	r.HandleFunc("/checkpoint", h.Checkpoint).Methods("GET")
	r.HandleFunc("/writable", h.Writable).Methods("GET")
	r.HandleFunc("/views/{name}", func(w http.ResponseWriter, req *http.Request) {
		h.ViewBlocks(w, req, mux.Vars(req)["name"])
	}).Methods("GET")
}
