package sequencerchannel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// httpABCIClient issues a CometBFT-style broadcast_tx_sync JSON-RPC call.
// The sequencer node's full ABCI/RPC contract is an external collaborator
// (spec §1); this is the minimal client needed to round-trip
// SubmitTransaction's (code, log, hash) response.
type httpABCIClient struct {
	endpoint string
	http     *http.Client
}

func newHTTPABCIClient(endpoint string) *httpABCIClient {
	return &httpABCIClient{endpoint: endpoint, http: &http.Client{}}
}

type broadcastTxSyncRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Method  string   `json:"method"`
	Params  struct{ Tx string } `json:"params"`
}

type broadcastTxSyncResponse struct {
	Result struct {
		Code uint32 `json:"code"`
		Log  string `json:"log"`
		Hash string `json:"hash"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *httpABCIClient) BroadcastTxSync(ctx context.Context, tx []byte) (SubmitResult, error) {
	reqBody := broadcastTxSyncRequest{JSONRPC: "2.0", ID: 1, Method: "broadcast_tx_sync"}
	reqBody.Params.Tx = base64.StdEncoding.EncodeToString(tx)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "failed to marshal broadcast_tx_sync request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "failed to build broadcast_tx_sync request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "broadcast_tx_sync request failed")
	}
	defer resp.Body.Close()

	var decoded broadcastTxSyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return SubmitResult{}, errors.Wrap(err, "failed to decode broadcast_tx_sync response")
	}
	if decoded.Error != nil {
		return SubmitResult{}, errors.Errorf("broadcast_tx_sync rejected: %s", decoded.Error.Message)
	}

	hashBytes, err := hexDecode(decoded.Result.Hash)
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "failed to decode transaction hash")
	}

	var result SubmitResult
	result.Code = decoded.Result.Code
	result.Log = decoded.Result.Log
	copy(result.Hash[:], hashBytes)
	return result, nil
}

func hexDecode(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errors.Errorf("invalid hex character %q", c)
	}
}
