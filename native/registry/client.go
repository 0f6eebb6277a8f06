package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"carbonlink/core/types"
)

// Client queries a remote registry oracle over JSON-RPC.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewClient returns a client for the oracle at baseURL. authToken, when set,
// is sent as a bearer token.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) ValidateFlight(ctx context.Context, flightID string) (bool, error) {
	var ok bool
	err := c.call(ctx, "registry_validateFlight", []interface{}{map[string]string{"flightId": flightID}}, &ok)
	return ok, err
}

func (c *Client) ValidateProject(ctx context.Context, projectID string) (bool, error) {
	var ok bool
	err := c.call(ctx, "registry_validateProject", []interface{}{map[string]string{"projectId": projectID}}, &ok)
	return ok, err
}

func (c *Client) ProjectOwner(ctx context.Context, projectID string) ([20]byte, error) {
	var raw string
	if err := c.call(ctx, "registry_projectOwner", []interface{}{map[string]string{"projectId": projectID}}, &raw); err != nil {
		return [20]byte{}, err
	}
	return types.ParseAddress(raw)
}

func (c *Client) ProjectParticipants(ctx context.Context, projectID string) ([][20]byte, error) {
	var raw []string
	if err := c.call(ctx, "registry_projectParticipants", []interface{}{map[string]string{"projectId": projectID}}, &raw); err != nil {
		return nil, err
	}
	return parseAddresses(raw)
}

func (c *Client) IssueCredential(ctx context.Context, owner [20]byte, flightID, projectID string, amount *big.Int) (string, error) {
	if amount == nil {
		return "", ErrInvalidCredential
	}
	params := map[string]string{
		"owner":     types.FormatAddress(owner),
		"flightId":  flightID,
		"projectId": projectID,
		"amount":    amount.String(),
	}
	var result struct {
		CredentialID string `json:"credentialId"`
	}
	if err := c.call(ctx, "registry_issueCredential", []interface{}{params}, &result); err != nil {
		return "", err
	}
	if strings.TrimSpace(result.CredentialID) == "" {
		return "", errors.New("registry rpc returned empty credential id")
	}
	return result.CredentialID, nil
}

func (c *Client) IsAuthorizedVerifier(ctx context.Context, addr [20]byte) (bool, error) {
	var ok bool
	err := c.call(ctx, "registry_isAuthorizedVerifier", []interface{}{map[string]string{"address": types.FormatAddress(addr)}}, &ok)
	return ok, err
}

func (c *Client) VerifierRoster(ctx context.Context) ([][20]byte, error) {
	var raw []string
	if err := c.call(ctx, "registry_verifierRoster", []interface{}{}, &raw); err != nil {
		return nil, err
	}
	return parseAddresses(raw)
}

func parseAddresses(raw []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		addr, err := types.ParseAddress(entry)
		if err != nil {
			return nil, fmt.Errorf("registry rpc: %w", err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("registry rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("registry rpc %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("registry rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
