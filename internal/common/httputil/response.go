// Package httputil carries the JSON envelope used by control responses.
// Page bodies and job documents are written bare by their handlers; this
// envelope is only for errors and status acknowledgements.
package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// APIResponse is the envelope for control-plane replies.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONResponse writes an enveloped reply with the given status code.
func JSONResponse(ctx *fasthttp.RequestCtx, success bool, message string, data interface{}, statusCode int) {
	body, _ := json.Marshal(APIResponse{
		Success: success,
		Message: message,
		Data:    data,
	})
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// JSONError writes an error reply.
func JSONError(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	JSONResponse(ctx, false, message, nil, statusCode)
}

// JSONSuccess writes a success reply with no data payload.
func JSONSuccess(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	JSONResponse(ctx, true, message, nil, statusCode)
}
