package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"carbonlink/core/events"
	"carbonlink/core/state"
	"carbonlink/core/types"
	"carbonlink/native/bank"
	"carbonlink/native/common"
	"carbonlink/native/linkage"
	"carbonlink/native/registry"
	"carbonlink/storage"
	"carbonlink/storage/journal"
)

var testSecret = []byte("carbonlink-test-secret")

const (
	creatorHex   = "0x0000000000000000000000000000000000000010"
	authorityHex = "0x00000000000000000000000000000000000000a0"
	vaultHex     = "0x00000000000000000000000000000000000000ee"
	ownerHex     = "0x00000000000000000000000000000000000000aa"
	verifier1Hex = "0x0000000000000000000000000000000000000001"
	verifier2Hex = "0x0000000000000000000000000000000000000002"
	verifier3Hex = "0x0000000000000000000000000000000000000003"
)

const registryYAML = `
flights: [FL100, FL200]
projects:
  - id: PRJ-AMAZON
    owner: "0x00000000000000000000000000000000000000aa"
verifiers:
  - address: "0x0000000000000000000000000000000000000001"
    authorized: true
  - address: "0x0000000000000000000000000000000000000002"
    authorized: true
  - address: "0x0000000000000000000000000000000000000003"
    authorized: true
`

type testEnv struct {
	t       *testing.T
	server  *Server
	handler http.Handler
	bank    *bank.Bank
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func mustAddress(t *testing.T, raw string) [20]byte {
	t.Helper()
	addr, err := types.ParseAddress(raw)
	require.NoError(t, err)
	return addr
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := bank.New(manager)
	store := manager.LinkageStore()
	_, err := store.InitAuthority(mustAddress(t, authorityHex))
	require.NoError(t, err)
	require.NoError(t, ledger.Mint(mustAddress(t, creatorHex), big.NewInt(10_000)))

	reg, err := registry.ParseStatic([]byte(registryYAML))
	require.NoError(t, err)

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	j, err := journal.Open(journal.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	quiet := slog.New(slog.NewJSONHandler(io.Discard, nil))
	j.SetLogger(quiet)

	engine := linkage.NewEngine()
	engine.SetState(store)
	engine.SetAdapters(linkage.Adapters{
		Ledger:      ledger,
		Flights:     reg,
		Projects:    reg,
		Credentials: reg,
		Verifiers:   reg,
	})
	engine.SetVault(mustAddress(t, vaultHex))
	engine.SetEmitter(events.Fanout{j})
	engine.SetLogger(quiet)

	if cfg.JWTSecret == nil {
		cfg.JWTSecret = testSecret
	}
	server := NewServer(engine, cfg)
	server.SetBank(ledger)
	server.SetJournal(j)
	server.SetLogger(quiet)
	return &testEnv{t: t, server: server, handler: server.Handler(), bank: ledger}
}

func (e *testEnv) token(subject string) string {
	e.t.Helper()
	token, err := SignToken(testSecret, "", mustAddress(e.t, subject), time.Hour)
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) post(body []byte, token string) (int, testResponse) {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	var resp testResponse
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (e *testEnv) call(method, token string, params interface{}) (int, testResponse) {
	e.t.Helper()
	request := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(e.t, err)
		request["params"] = []json.RawMessage{raw}
	}
	body, err := json.Marshal(request)
	require.NoError(e.t, err)
	return e.post(body, token)
}

func (e *testEnv) mustCall(method, token string, params, out interface{}) {
	e.t.Helper()
	status, resp := e.call(method, token, params)
	require.Nil(e.t, resp.Error, "%s failed: %+v", method, resp.Error)
	require.Equal(e.t, http.StatusOK, status)
	if out != nil {
		require.NoError(e.t, json.Unmarshal(resp.Result, out))
	}
}

func amazonKey(extra map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{"flightId": "FL100", "projectId": "PRJ-AMAZON"}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

func TestLinkageLifecycle(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	creator := env.token(creatorHex)

	var created linkageCreateResult
	env.mustCall("linkage_create", creator, amazonKey(map[string]interface{}{
		"offsetAmount": "3",
		"payment":      "1000",
		"metadata":     map[string]interface{}{"description": "LHR-JFK offset", "tags": []string{"transatlantic"}},
	}), &created)
	require.NotEmpty(t, created.CredentialID)

	var view linkageJSON
	env.mustCall("linkage_get", "", amazonKey(nil), &view)
	require.Equal(t, "pending", view.Status)
	require.Equal(t, "1000", view.EscrowAmount)
	require.Equal(t, creatorHex, view.Creator)

	var meta metadataJSON
	env.mustCall("linkage_getMetadata", "", amazonKey(nil), &meta)
	require.Equal(t, "LHR-JFK offset", meta.Description)
	require.True(t, meta.Visible)

	var escrow string
	env.mustCall("linkage_escrowTotal", "", nil, &escrow)
	require.Equal(t, "1000", escrow)

	for i, verifier := range []string{verifier1Hex, verifier2Hex, verifier3Hex} {
		var result linkageVoteResult
		env.mustCall("linkage_vote", env.token(verifier), amazonKey(map[string]interface{}{"vote": "approve"}), &result)
		if i < 2 {
			require.Equal(t, "pending", result.Status)
		} else {
			require.Equal(t, "verified", result.Status)
		}
	}

	var votes []voteJSON
	env.mustCall("linkage_listVotes", "", amazonKey(nil), &votes)
	require.Len(t, votes, 3)

	var vote *voteJSON
	env.mustCall("linkage_getVote", "", amazonKey(map[string]interface{}{"verifier": verifier2Hex}), &vote)
	require.NotNil(t, vote)
	require.Equal(t, "approve", vote.Vote)

	var balance struct {
		Balance string `json:"balance"`
	}
	env.mustCall("bank_balance", "", map[string]string{"address": ownerHex}, &balance)
	require.Equal(t, "1000", balance.Balance)
	env.mustCall("linkage_escrowTotal", "", nil, &escrow)
	require.Equal(t, "0", escrow)

	var total uint64
	env.mustCall("linkage_totalLinkages", "", nil, &total)
	require.Equal(t, uint64(1), total)

	var evts []eventJSON
	env.mustCall("linkage_events", "", amazonKey(map[string]interface{}{"limit": 50}), &evts)
	require.NotEmpty(t, evts)
	require.Equal(t, linkage.EventTypeCreated, evts[0].Type)
	seen := map[string]bool{}
	for _, evt := range evts {
		seen[evt.Type] = true
	}
	require.True(t, seen[linkage.EventTypeReleased])

	var all []eventJSON
	env.mustCall("linkage_events", "", nil, &all)
	require.GreaterOrEqual(t, len(all), len(evts))
}

func TestMutationsRequireBearerToken(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	params := amazonKey(map[string]interface{}{"offsetAmount": "1", "payment": "10"})

	status, resp := env.call("linkage_create", "", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	forged, err := SignToken([]byte("other-secret"), "", mustAddress(t, creatorHex), time.Hour)
	require.NoError(t, err)
	status, resp = env.call("linkage_create", forged, params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call("linkage_pause", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestDomainErrorsMapToCodes(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	creator := env.token(creatorHex)

	status, resp := env.call("linkage_get", "", amazonKey(nil))
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeLinkageNotFound, resp.Error.Code)

	status, resp = env.call("linkage_pause", creator, nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeLinkageUnauthorized, resp.Error.Code)

	status, resp = env.call("linkage_create", creator, map[string]interface{}{
		"flightId": "FL999", "projectId": "PRJ-AMAZON", "offsetAmount": "1", "payment": "10",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeLinkageInvalidFlight, resp.Error.Code)

	env.mustCall("linkage_pause", env.token(authorityHex), nil, nil)
	var paused bool
	env.mustCall("linkage_isPaused", "", nil, &paused)
	require.True(t, paused)

	status, resp = env.call("linkage_create", creator, amazonKey(map[string]interface{}{"offsetAmount": "1", "payment": "10"}))
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeLinkagePaused, resp.Error.Code)
}

func TestInvalidParams(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	creator := env.token(creatorHex)

	status, resp := env.call("linkage_create", creator, amazonKey(map[string]interface{}{"offsetAmount": "x", "payment": "10"}))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call("linkage_setRevenueShare", creator, amazonKey(map[string]interface{}{"participant": "nope", "percentage": 10}))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call("linkage_events", "", map[string]interface{}{"flightId": "FL100"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestEngineCheckOrderOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	creator := env.token(creatorHex)
	env.mustCall("linkage_create", creator, amazonKey(map[string]interface{}{"offsetAmount": "1", "payment": "10"}), nil)

	status, resp := env.call("linkage_create", creator, amazonKey(map[string]interface{}{"offsetAmount": "0", "payment": "10"}))
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeLinkageAlreadyLinked, resp.Error.Code)

	fl200 := map[string]interface{}{"flightId": "FL200", "projectId": "PRJ-AMAZON", "offsetAmount": "-3", "payment": "10"}
	status, resp = env.call("linkage_create", creator, fl200)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeLinkageInvalidAmount, resp.Error.Code)

	padded := map[string]interface{}{"flightId": " FL200", "projectId": "PRJ-AMAZON", "offsetAmount": "1", "payment": "10"}
	status, resp = env.call("linkage_create", creator, padded)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeLinkageInvalidFlight, resp.Error.Code)

	share := amazonKey(map[string]interface{}{"participant": ownerHex, "percentage": -5})
	status, resp = env.call("linkage_setRevenueShare", creator, share)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeLinkageInvalidPercentage, resp.Error.Code)

	env.mustCall("linkage_pause", env.token(authorityHex), nil, nil)

	fl200["offsetAmount"] = "0"
	status, resp = env.call("linkage_create", creator, fl200)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeLinkagePaused, resp.Error.Code)

	status, resp = env.call("linkage_setRevenueShare", creator, share)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeLinkagePaused, resp.Error.Code)

	var total uint64
	env.mustCall("linkage_totalLinkages", "", nil, &total)
	require.Equal(t, uint64(1), total)
}

func TestTransferAuthority(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	env.mustCall("linkage_transferAuthority", env.token(authorityHex), map[string]string{"newAuthority": ownerHex}, nil)

	var authority string
	env.mustCall("linkage_authority", "", nil, &authority)
	require.Equal(t, ownerHex, authority)

	status, resp := env.call("linkage_pause", env.token(authorityHex), nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeLinkageUnauthorized, resp.Error.Code)
}

func TestEnvelopeErrors(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	status, resp := env.post([]byte("{not json"), "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeParseError, resp.Error.Code)

	status, resp = env.post([]byte(`{"jsonrpc":"1.0","id":1,"method":"linkage_get"}`), "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)

	status, resp = env.call("linkage_teleport", "", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	status, resp = env.call("linkage_get", "", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRateLimitPerSource(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RequestsPerSecond: 0.001, Burst: 1})
	env.mustCall("linkage_isPaused", "", nil, nil)

	status, resp := env.call("linkage_isPaused", "", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestCreateQuota(t *testing.T) {
	env := newTestEnv(t, ServerConfig{Quota: common.Quota{MaxEscrowPerEpoch: 100, EpochSeconds: 3600}})
	creator := env.token(creatorHex)

	status, resp := env.call("linkage_create", creator, amazonKey(map[string]interface{}{"offsetAmount": "1", "payment": "500"}))
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
	require.Equal(t, "quota_exceeded", resp.Error.Message)

	env.mustCall("linkage_create", creator, amazonKey(map[string]interface{}{"offsetAmount": "1", "payment": "100"}), nil)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
