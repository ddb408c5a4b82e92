// Package protocol implements the newline-delimited JSON wire format for
// inference requests and responses. One JSON object per line in each
// direction; the connection itself correlates requests with responses.
package protocol

import (
	"encoding/json"
	"fmt"
)

// InferenceRequest is one decoded wire message.
type InferenceRequest struct {
	// Model is the catalog name of the model to run.
	Model string `json:"model"`
	// ActionMasks holds one mask per action head. Each head's mask length
	// is independent and fixed by the model.
	ActionMasks [][]bool `json:"actionMasks"`
	// Obs holds the observation frames. More than one frame means frame
	// stacking; the frame layout is opaque here.
	Obs []Frame `json:"obs"`
	// Deterministic selects greedy sampling, either for all heads or per
	// head. Defaults to false.
	Deterministic BoolOrSlice `json:"deterministic"`
	ReturnLogProb bool        `json:"returnLogProb"`
	ReturnEntropy bool        `json:"returnEntropy"`
	ReturnValue   bool        `json:"returnValue"`
	ReturnProbs   bool        `json:"returnProbs"`
	// Extensions names the model extensions to evaluate. Results come back
	// in the same order.
	Extensions []string `json:"extensions"`
}

// InferenceResponse is the reply for exactly one request. Optional fields
// are null on the wire when the corresponding request flag was unset.
type InferenceResponse struct {
	Action           []int       `json:"action"`
	LogProb          *float64    `json:"logProb"`
	Entropy          []float64   `json:"entropy"`
	Values           []float64   `json:"values"`
	Probs            [][]float64 `json:"probs"`
	ExtensionResults []any       `json:"extensionResults"`
}

// Frame is one observation frame. The wire format allows booleans mixed
// with numbers inside a frame; booleans decode to 1 and 0.
type Frame []float32

func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Frame, len(raw))
	for i, v := range raw {
		switch val := v.(type) {
		case float64:
			out[i] = float32(val)
		case bool:
			if val {
				out[i] = 1
			}
		default:
			return fmt.Errorf("frame element %d: expected number or boolean, got %T", i, v)
		}
	}
	*f = out
	return nil
}

// BoolOrSlice decodes a JSON value that is either a single boolean or an
// array of booleans (one per action head).
type BoolOrSlice struct {
	// PerHead is non-nil when the wire value was an array.
	PerHead []bool
	// Value holds the scalar when PerHead is nil.
	Value bool
}

func (b *BoolOrSlice) UnmarshalJSON(data []byte) error {
	var scalar bool
	if err := json.Unmarshal(data, &scalar); err == nil {
		b.Value = scalar
		b.PerHead = nil
		return nil
	}
	var list []bool
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected boolean or array of booleans")
	}
	b.PerHead = list
	return nil
}

func (b BoolOrSlice) MarshalJSON() ([]byte, error) {
	if b.PerHead != nil {
		return json.Marshal(b.PerHead)
	}
	return json.Marshal(b.Value)
}

// ForHead reports the deterministic setting for head i.
func (b BoolOrSlice) ForHead(i int) bool {
	if b.PerHead == nil {
		return b.Value
	}
	if i < len(b.PerHead) {
		return b.PerHead[i]
	}
	return false
}

// DecodeRequest parses one wire line into a request. A line that is not a
// valid JSON object, or that is missing model, actionMasks, or obs, fails
// with a MalformedMessageError.
func DecodeRequest(line []byte) (*InferenceRequest, error) {
	var req InferenceRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, &MalformedMessageError{Reason: err.Error()}
	}
	if req.Model == "" {
		return nil, &MalformedMessageError{Reason: "missing required field: model"}
	}
	if req.ActionMasks == nil {
		return nil, &MalformedMessageError{Reason: "missing required field: actionMasks"}
	}
	if req.Obs == nil {
		return nil, &MalformedMessageError{Reason: "missing required field: obs"}
	}
	if req.Extensions == nil {
		req.Extensions = []string{}
	}
	return &req, nil
}

// EncodeRequest serializes a request as one wire line.
func EncodeRequest(req *InferenceRequest) ([]byte, error) {
	return appendNewline(json.Marshal(req))
}

// EncodeResponse serializes a response as one wire line. ExtensionResults
// always encodes as an array, never null.
func EncodeResponse(resp *InferenceResponse) ([]byte, error) {
	if resp.ExtensionResults == nil {
		resp.ExtensionResults = []any{}
	}
	return appendNewline(json.Marshal(resp))
}

// DecodeResponse parses one wire line into a response.
func DecodeResponse(line []byte) (*InferenceResponse, error) {
	var resp InferenceResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// errorLine is the single-field error object written for request-level
// failures. The connection stays open after one of these.
type errorLine struct {
	Error string `json:"error"`
}

// EncodeError serializes a request-level failure as one wire line.
func EncodeError(msg string) []byte {
	out, err := json.Marshal(errorLine{Error: msg})
	if err != nil {
		// A string field cannot fail to marshal.
		panic(err)
	}
	return append(out, '\n')
}

// DecodeError extracts the error message from a wire line, if the line is
// an error object. Used by clients and tests.
func DecodeError(line []byte) (string, bool) {
	var e errorLine
	if err := json.Unmarshal(line, &e); err != nil || e.Error == "" {
		return "", false
	}
	return e.Error, true
}

func appendNewline(data []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
