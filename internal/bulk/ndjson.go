package bulk

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/codeingest/internal/models"
	"github.com/hyperjump/codeingest/pkg/utils"
)

// maxReasonLen bounds reasons copied from server responses into errors and logs.
const maxReasonLen = 512

type actionLine struct {
	Index models.IndexAction `json:"index"`
}

// EncodeNDJSON writes each pair as an index action line followed by the
// document line, both newline terminated.
func EncodeNDJSON(w io.Writer, pairs []models.BulkPair) error {
	enc := json.NewEncoder(w)
	for i := range pairs {
		if err := enc.Encode(actionLine{Index: pairs[i].Action}); err != nil {
			return fmt.Errorf("encoding action %d: %w", i, err)
		}
		if err := enc.Encode(pairs[i].Document); err != nil {
			return fmt.Errorf("encoding document %s: %w", pairs[i].Action.ID, err)
		}
	}
	return nil
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type bulkItemCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// parseBulkResponse extracts item failures from a _bulk response body.
// pairs supplies ids for items the server reports without one.
func parseBulkResponse(r io.Reader, pairs []models.BulkPair) ([]ItemError, error) {
	var resp bulkResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}
	if !resp.Errors {
		return nil, nil
	}
	var failed []ItemError
	for i, item := range resp.Items {
		for _, res := range item {
			if len(res.Error) == 0 && res.Status < 300 {
				continue
			}
			ie := ItemError{ID: res.ID, Status: res.Status}
			if ie.ID == "" && i < len(pairs) {
				ie.ID = pairs[i].Action.ID
			}
			var cause bulkItemCause
			if err := json.Unmarshal(res.Error, &cause); err == nil {
				ie.Type, ie.Reason = cause.Type, cause.Reason
			} else {
				var s string
				if json.Unmarshal(res.Error, &s) == nil {
					ie.Reason = s
				} else {
					ie.Reason = string(res.Error)
				}
			}
			ie.Reason = utils.Truncate(ie.Reason, maxReasonLen)
			failed = append(failed, ie)
		}
	}
	if len(failed) == 0 {
		failed = append(failed, ItemError{Reason: "server reported errors without item details"})
	}
	return failed, nil
}
