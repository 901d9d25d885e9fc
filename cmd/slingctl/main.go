// slingctl is the textual CLI surface spec.md §1 puts out of scope: a
// thin wrapper issuing one control-RPC call per invocation against a
// running sling daemon and printing the result. No business logic
// lives here, matching the teacher's habit of coloring CLI output with
// fatih/color rather than ad hoc ANSI codes.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/fatih/color"
)

var (
	errColor  = color.New(color.FgRed)
	okColor   = color.New(color.FgGreen)
	infoColor = color.New(color.FgCyan)
)

func main() {
	addr := os.Getenv("SLING_RPC_ADDR")
	if addr == "" {
		addr = "127.0.0.1:7337"
	}
	if len(os.Args) < 2 {
		errColor.Fprintln(os.Stderr, "usage: slingctl <sling-method> [json-params]")
		os.Exit(1)
	}

	method := os.Args[1]
	var params json.RawMessage
	if len(os.Args) > 2 {
		params = json.RawMessage(os.Args[2])
	}

	result, err := call(addr, method, params)
	if err != nil {
		errColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	okColor.Println("ok")
	infoColor.Println(string(result))
}

type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func call(addr, method string, params json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(fmt.Sprintf("http://%s/rpc", addr), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("malformed response: %s", raw)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%s (code %d)", out.Error.Message, out.Error.Code)
	}
	return out.Result, nil
}
