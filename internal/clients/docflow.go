package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rendiciones-service/internal/models"
)

// UpstreamError carries the raw payload of a failed docflow call so the
// caller can surface the upstream message verbatim. There are no automatic
// retries; the run must be re-invoked.
type UpstreamError struct {
	Endpoint string
	Status   int
	Payload  json.RawMessage
}

func (e *UpstreamError) Error() string {
	if len(e.Payload) > 0 {
		return fmt.Sprintf("docflow %s failed (%d): %s", e.Endpoint, e.Status, string(e.Payload))
	}
	return fmt.Sprintf("docflow %s failed (%d)", e.Endpoint, e.Status)
}

// DocflowClient talks to the external statement-parsing / receipt-extraction
// service.
type DocflowClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDocflowClient(baseURL string, timeout time.Duration) *DocflowClient {
	return &DocflowClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type StatementRef struct {
	FileID string `json:"driveFileId,omitempty"`
	URI    string `json:"uri,omitempty"`
	Mime   string `json:"mime,omitempty"`
}

type StatementRequest struct {
	RendicionID string       `json:"rendicionId"`
	Statement   StatementRef `json:"statement"`
}

type statementResponse struct {
	OK   bool                  `json:"ok"`
	Data *models.StatementData `json:"data"`
}

// ProcessStatement parses the statement file into ordered transactions.
func (c *DocflowClient) ProcessStatement(ctx context.Context, req *StatementRequest) (*models.StatementData, error) {
	var res statementResponse
	raw, err := c.post(ctx, "/v1/process_statement", req, &res)
	if err != nil {
		return nil, err
	}
	if !res.OK || res.Data == nil {
		return nil, &UpstreamError{Endpoint: "/v1/process_statement", Status: http.StatusOK, Payload: raw}
	}
	return res.Data, nil
}

type ReceiptRef struct {
	URI  string `json:"uri"`
	Mime string `json:"mime,omitempty"`
}

type StatementContext struct {
	Parsed *models.StatementData `json:"parsed"`
}

type ReceiptsBatchRequest struct {
	RendicionID string            `json:"rendicionId"`
	Mode        string            `json:"mode"`
	Statement   *StatementContext `json:"statement,omitempty"`
	Receipts    []ReceiptRef      `json:"receipts"`
}

type receiptsBatchResponse struct {
	OK   bool              `json:"ok"`
	Rows []json.RawMessage `json:"rows"`
}

// ProcessReceiptsBatch extracts one batch of receipts. Rows stay raw here;
// the normalize package owns their interpretation.
func (c *DocflowClient) ProcessReceiptsBatch(ctx context.Context, req *ReceiptsBatchRequest) ([]json.RawMessage, error) {
	var res receiptsBatchResponse
	raw, err := c.post(ctx, "/v1/process_receipts_batch", req, &res)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, &UpstreamError{Endpoint: "/v1/process_receipts_batch", Status: http.StatusOK, Payload: raw}
	}
	return res.Rows, nil
}

type NormalizeRequest struct {
	RendicionID string   `json:"rendicionId"`
	FileIDs     []string `json:"driveFileIds,omitempty"`
	FileURIs    []string `json:"uris,omitempty"`
}

type NormalizeResponseItem struct {
	Normalized struct {
		URI  string `json:"gcsUri"`
		Mime string `json:"mime"`
	} `json:"normalized"`
	Source struct {
		OriginalName string `json:"originalName"`
		FileID       string `json:"driveFileId"`
	} `json:"source"`
}

type normalizeResponse struct {
	OK    bool                    `json:"ok"`
	Items []NormalizeResponseItem `json:"items"`
}

// Normalize prepares raw receipt files for extraction and returns one item
// per input file, in input order.
func (c *DocflowClient) Normalize(ctx context.Context, req *NormalizeRequest) ([]NormalizeResponseItem, error) {
	var res normalizeResponse
	raw, err := c.post(ctx, "/v1/normalize", req, &res)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, &UpstreamError{Endpoint: "/v1/normalize", Status: http.StatusOK, Payload: raw}
	}
	return res.Items, nil
}

func (c *DocflowClient) post(ctx context.Context, path string, payload, out interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docflow %s: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("docflow %s: %v", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Endpoint: path, Status: resp.StatusCode, Payload: raw}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("docflow %s: decoding response: %v", path, err)
	}
	return raw, nil
}
