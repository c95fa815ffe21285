// Package response defines the JSON envelope every API handler renders.
package response

type Response struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

func Ok(data interface{}) Response {
	return Response{Status: statusOK, Data: data}
}

func Error(msg string) Response {
	return Response{Status: statusError, Error: msg}
}
