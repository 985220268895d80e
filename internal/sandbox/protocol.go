package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
)

func marshalRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

// parseMarkedResponse extracts the JSON Response object delimited by
// outputStartMarker/outputEndMarker within an arbitrary stdout stream, so
// that agent runtime logging sharing the same stream cannot corrupt the
// contract.
func parseMarkedResponse(stdout []byte) (Response, error) {
	start := bytes.Index(stdout, []byte(outputStartMarker))
	if start < 0 {
		return Response{}, fmt.Errorf("sandbox: output start marker not found")
	}
	start += len(outputStartMarker)
	end := bytes.Index(stdout[start:], []byte(outputEndMarker))
	if end < 0 {
		return Response{}, fmt.Errorf("sandbox: output end marker not found")
	}
	body := bytes.TrimSpace(stdout[start : start+end])

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp, nil
}

// wrapMarked is the inverse of parseMarkedResponse, used by tests and by
// the reference agent-runtime entrypoint to produce conforming output.
func wrapMarked(resp Response) ([]byte, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(outputStartMarker)
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte('\n')
	buf.WriteString(outputEndMarker)
	return buf.Bytes(), nil
}
