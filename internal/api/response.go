package api

import (
	"encoding/json"
	"net/http"
)

// Business codes carried in the response envelope alongside the HTTP status.
const (
	codeOK           = 0
	codeInvalidParam = 40007
	codeNotFound     = 40401
	codeInternal     = 50001
)

// envelope is the uniform response shape of every JSON endpoint.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Code: codeOK, Message: "success", Data: data})
}

func respondCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Code: codeOK, Message: "success", Data: data})
}

func respondInvalid(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, envelope{Code: codeInvalidParam, Message: message})
}

func respondNotFound(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusNotFound, envelope{Code: codeNotFound, Message: message})
}

func respondInternal(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusInternalServerError, envelope{Code: codeInternal, Message: message})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
