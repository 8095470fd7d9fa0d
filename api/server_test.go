package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contract-lab/hashing"
	"contract-lab/registry"
	"contract-lab/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	hasher := hashing.NewService()

	accounts, err := registry.NewAccountRegistry(registry.RegistryConfig{
		AccountsFilePath: filepath.Join(t.TempDir(), "accounts.json"),
		AutoSave:         true,
	}, hasher)
	require.NoError(t, err)
	require.NoError(t, accounts.LoadTestData())

	deployer, err := accounts.Resolve("owner")
	require.NoError(t, err)

	sim, err := service.NewSimulator(service.Config{
		StoragePath: t.TempDir(),
	}, deployer, hasher, logger)
	require.NoError(t, err)

	server := httptest.NewServer(NewServer(sim, accounts, logger).Router())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, server *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, server *httptest.Server, path string, dst interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp
}

func TestDepositAndBalanceByName(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/api/deposit", DepositRequest{Caller: "alice", Amount: "5"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var balance BalanceResponse
	getJSON(t, server, "/api/balance?account=alice", &balance)
	assert.Equal(t, "5", balance.Balance)
	assert.Equal(t, "0", balance.External)
}

func TestWithdrawCreditsExternal(t *testing.T) {
	server := newTestServer(t)

	postJSON(t, server, "/api/deposit", DepositRequest{Caller: "bob", Amount: "3"})
	resp := postJSON(t, server, "/api/withdraw", WithdrawRequest{Caller: "bob"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var balance BalanceResponse
	getJSON(t, server, "/api/balance?account=bob", &balance)
	assert.Equal(t, "0", balance.Balance)
	assert.Equal(t, "3", balance.External)
}

func TestRejectedPreconditionIsBadRequest(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/api/withdraw", WithdrawRequest{Caller: "alice"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "insufficient")
}

func TestUnknownVariantAndAccountRejected(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/api/deposit", DepositRequest{Variant: "hardened", Caller: "alice", Amount: "1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, server, "/api/deposit", DepositRequest{Caller: "nobody", Amount: "1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVariantRouting(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/api/deposit", DepositRequest{Variant: "vulnerable", Caller: "alice", Amount: "9"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var secure, vulnerable BalanceResponse
	getJSON(t, server, "/api/balance?account=alice", &secure)
	getJSON(t, server, "/api/balance?variant=vulnerable&account=alice", &vulnerable)
	assert.Equal(t, "0", secure.Balance)
	assert.Equal(t, "9", vulnerable.Balance)
}

func TestVotingFlow(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/api/candidates", RegisterCandidateRequest{Caller: "owner", Name: "north"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, server, "/api/vote", VoteRequest{Caller: "alice", CandidateIndex: 0})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, server, "/api/vote", VoteRequest{Caller: "alice", CandidateIndex: 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "double vote rejected on the secure variant")

	var winner WinnerResponse
	getJSON(t, server, "/api/winner", &winner)
	assert.Equal(t, "north", winner.Winner)
}

func TestWinnerWithoutCandidates(t *testing.T) {
	server := newTestServer(t)

	resp := getJSON(t, server, "/api/winner", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDivideEndpoint(t *testing.T) {
	server := newTestServer(t)

	var result DivideResponse
	resp := getJSON(t, server, "/api/divide?a=5&b=2", &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2500000000000000000", result.Quotient)
	assert.Equal(t, "1000000000000000000", result.Scale)

	resp = getJSON(t, server, "/api/divide?a=5&b=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsEndpoint(t *testing.T) {
	server := newTestServer(t)

	postJSON(t, server, "/api/deposit", DepositRequest{Caller: "alice", Amount: "1"})
	postJSON(t, server, "/api/deposit", DepositRequest{Caller: "bob", Amount: "2"})

	var events EventsResponse
	getJSON(t, server, "/api/events", &events)
	assert.Equal(t, 2, events.Count)
	assert.True(t, events.ChainValid)
	require.Len(t, events.Events, 2)

	var limited EventsResponse
	getJSON(t, server, "/api/events?limit=1", &limited)
	assert.Equal(t, 2, limited.Count)
	require.Len(t, limited.Events, 1)
	assert.Equal(t, uint64(2), limited.Events[0].Seq, "limit keeps the newest events")
}

func TestAccountsEndpoint(t *testing.T) {
	server := newTestServer(t)

	var accounts map[string]string
	getJSON(t, server, "/api/accounts", &accounts)
	for _, name := range registry.DefaultAccountNames {
		assert.Contains(t, accounts, name)
	}
}

func TestRegisterAndVerify(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/api/register", RegisterRequest{Caller: "alice", Username: "alice", Password: "hunter2"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var verify VerifyUserResponse
	resp = postJSON(t, server, "/api/verify", VerifyUserRequest{Account: "alice", Password: "hunter2"})
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verify))
	assert.True(t, verify.Match)

	resp = postJSON(t, server, "/api/verify", VerifyUserRequest{Account: "alice", Password: "wrong"})
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verify))
	assert.False(t, verify.Match)
}
