// Package echo provides handlers whose responses are driven by the request, used to exercise hooks
// with known methods, status codes and aborts.
package echo

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	statusParam = "status"
	abortParam  = "abort"
)

// NewServeMux registers the echo handlers on a new mux.
func NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	Register(mux)
	return mux
}

func Register(mux *http.ServeMux) {
	mux.HandleFunc("/headers", RequestHeaders)
	mux.HandleFunc("/response-headers", ResponseHeaders)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type RequestHeaderResponse struct {
	Headers map[string]string `json:"headers"`
}

// RequestHeaders writes the request headers in the payload
func RequestHeaders(w http.ResponseWriter, request *http.Request) {
	w.Header().Set("content-type", "application/json")
	resp := RequestHeaderResponse{
		Headers: make(map[string]string),
	}
	for headerName := range request.Header {
		resp.Headers[headerName] = request.Header.Get(headerName)
	}

	resp.Headers["Host"] = request.Host
	resp.Headers["Method"] = request.Method

	respond(w, http.StatusOK, resp)
}

type ResponseHeaderResponse map[string]string

// ResponseHeaders writes response headers from query parameters. The status parameter sets the
// response status code. With abort=true the handler sends the headers and then drops the connection.
func ResponseHeaders(w http.ResponseWriter, request *http.Request) {
	w.Header().Set("content-type", "application/json")
	statusCode := http.StatusOK
	resp := make(ResponseHeaderResponse)
	for k, v := range request.URL.Query() {
		if len(v) <= 0 {
			continue
		}
		switch k {
		case statusParam:
			code, err := strconv.Atoi(v[0])
			if err != nil || code < 100 || code > 999 {
				respond(w, http.StatusBadRequest, ErrorResponse{Error: "invalid status " + strconv.Quote(v[0])})
				return
			}
			statusCode = code
		case abortParam:
			continue
		}
		for _, value := range v {
			w.Header().Add(k, value)
		}
		resp[k] = v[0]
	}
	if abort, _ := strconv.ParseBool(request.URL.Query().Get(abortParam)); abort {
		w.WriteHeader(statusCode)
		panic(http.ErrAbortHandler)
	}
	respond(w, statusCode, resp)
}

func respond(w http.ResponseWriter, statusCode int, v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(statusCode)
	w.Write(raw) // nolint:errcheck
}
