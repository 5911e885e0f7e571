package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/jierlich/paywall/common"
	"github.com/jierlich/paywall/database/pebbledb"
	"github.com/jierlich/paywall/ledger"
	"github.com/jierlich/paywall/settlement/mock"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"message"`
	Data json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := pebbledb.NewDataBase(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("NewDataBase err: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	rate, _ := new(big.Int).SetString("10000000000000000", 10) // 1%
	l := ledger.NewLedger(db, mock.NewSender(), "0xdeployer", rate)
	if err := l.Load(); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	return Router(l)
}

func do(t *testing.T, r *gin.Engine, method, path, caller string, body interface{}) envelope {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("%s %s: http status %d", method, path, w.Code)
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode envelope: %v", method, path, err)
	}
	return env
}

func TestApiHappyPath(t *testing.T) {
	r := newTestRouter(t)

	env := do(t, r, "POST", "/api/paywall/create", "", gin.H{"feeAmount": "100", "owner": "0xcreator"})
	if env.Code != 1 {
		t.Fatalf("create code = %d, msg = %s", env.Code, env.Msg)
	}
	var created struct {
		AssetId uint64 `json:"assetId"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode create data: %v", err)
	}
	if created.AssetId != 1 {
		t.Fatalf("assetId = %d, want 1", created.AssetId)
	}

	env = do(t, r, "POST", "/api/paywall/grant", "0xbuyer", gin.H{"assetId": 1, "grantee": "0xbuyer", "payment": "100"})
	if env.Code != 1 {
		t.Fatalf("grant code = %d, msg = %s", env.Code, env.Msg)
	}

	env = do(t, r, "GET", "/api/paywall/hasAccess?assetId=1&address=0xbuyer", "", nil)
	var accessData struct {
		HasAccess bool `json:"hasAccess"`
	}
	json.Unmarshal(env.Data, &accessData)
	if !accessData.HasAccess {
		t.Fatal("hasAccess = false after grant")
	}

	env = do(t, r, "GET", "/api/paywall/pendingWithdrawals/1", "", nil)
	var amountData struct {
		Amount string `json:"amount"`
	}
	json.Unmarshal(env.Data, &amountData)
	if amountData.Amount != "99" {
		t.Fatalf("pending = %s, want 99", amountData.Amount)
	}

	env = do(t, r, "GET", "/api/paywall/contractFeesAccrued", "", nil)
	json.Unmarshal(env.Data, &amountData)
	if amountData.Amount != "1" {
		t.Fatalf("accrued = %s, want 1", amountData.Amount)
	}

	env = do(t, r, "POST", "/api/paywall/withdraw", "0xcreator", gin.H{"assetId": 1})
	if env.Code != 1 {
		t.Fatalf("withdraw code = %d, msg = %s", env.Code, env.Msg)
	}
	json.Unmarshal(env.Data, &amountData)
	if amountData.Amount != "99" {
		t.Fatalf("withdrew %s, want 99", amountData.Amount)
	}

	env = do(t, r, "POST", "/api/paywall/contractWithdraw", "0xdeployer", nil)
	if env.Code != 1 {
		t.Fatalf("contractWithdraw code = %d, msg = %s", env.Code, env.Msg)
	}

	env = do(t, r, "GET", "/api/paywall/events", "", nil)
	var events []struct {
		AssetId uint64 `json:"assetId"`
	}
	json.Unmarshal(env.Data, &events)
	if len(events) != 1 || events[0].AssetId != 1 {
		t.Fatalf("events = %+v", events)
	}

	env = do(t, r, "GET", "/api/paywall/grants/1", "", nil)
	var grants []struct {
		Payer      string `json:"payer"`
		OwnerShare string `json:"ownerShare"`
	}
	json.Unmarshal(env.Data, &grants)
	if len(grants) != 1 || grants[0].Payer != "0xbuyer" || grants[0].OwnerShare != "99" {
		t.Fatalf("grants = %+v", grants)
	}
}

func TestApiErrorMapping(t *testing.T) {
	r := newTestRouter(t)
	do(t, r, "POST", "/api/paywall/create", "", gin.H{"feeAmount": "100", "owner": "0xcreator"})

	// unknown asset -> 404
	env := do(t, r, "POST", "/api/paywall/grant", "0xbuyer", gin.H{"assetId": 9, "grantee": "0xbuyer", "payment": "100"})
	if env.Code != 404 || env.Msg != "Asset does not exist" {
		t.Fatalf("grant unknown asset: code=%d msg=%q", env.Code, env.Msg)
	}

	// wrong payment -> 402
	env = do(t, r, "POST", "/api/paywall/grant", "0xbuyer", gin.H{"assetId": 1, "grantee": "0xbuyer", "payment": "99"})
	if env.Code != 402 || env.Msg != "Incorrect fee amount" {
		t.Fatalf("wrong payment: code=%d msg=%q", env.Code, env.Msg)
	}

	// non-owner withdraw -> 401
	env = do(t, r, "POST", "/api/paywall/withdraw", "0xstranger", gin.H{"assetId": 1})
	if env.Code != 401 || env.Msg != "Only the asset owner can call this function" {
		t.Fatalf("stranger withdraw: code=%d msg=%q", env.Code, env.Msg)
	}

	// empty balance -> 403
	env = do(t, r, "POST", "/api/paywall/withdraw", "0xcreator", gin.H{"assetId": 1})
	if env.Code != 403 || env.Msg != "No funds to withdraw for this asset" {
		t.Fatalf("empty withdraw: code=%d msg=%q", env.Code, env.Msg)
	}

	// missing caller header -> parameter error
	env = do(t, r, "POST", "/api/paywall/grant", "", gin.H{"assetId": 1, "grantee": "0xbuyer", "payment": "100"})
	if env.Code != 400 {
		t.Fatalf("missing caller: code=%d", env.Code)
	}

	// fractional payment -> parameter error
	env = do(t, r, "POST", "/api/paywall/grant", "0xbuyer", gin.H{"assetId": 1, "grantee": "0xbuyer", "payment": "1.5"})
	if env.Code != 400 {
		t.Fatalf("fractional payment: code=%d", env.Code)
	}

	// stranger admin ops
	env = do(t, r, "POST", "/api/paywall/changeContractFee", "0xstranger", gin.H{"rate": "0.02"})
	if env.Code != 401 || env.Msg != "caller is not the owner" {
		t.Fatalf("stranger changeContractFee: code=%d msg=%q", env.Code, env.Msg)
	}
	env = do(t, r, "POST", "/api/paywall/contractWithdraw", "0xstranger", nil)
	if env.Code != 401 || env.Msg != "Ownable: caller is not the owner" {
		t.Fatalf("stranger contractWithdraw: code=%d msg=%q", env.Code, env.Msg)
	}

	// snapshot without admin token
	env = do(t, r, "GET", "/api/paywall/snapshot", "", nil)
	if env.Code != 401 {
		t.Fatalf("snapshot without token: code=%d", env.Code)
	}
}

func TestApiAdminOps(t *testing.T) {
	r := newTestRouter(t)

	env := do(t, r, "POST", "/api/paywall/changeContractFee", "0xdeployer", gin.H{"rate": "0.05"})
	if env.Code != 1 {
		t.Fatalf("changeContractFee code=%d msg=%s", env.Code, env.Msg)
	}
	env = do(t, r, "GET", "/api/paywall/contractFee", "", nil)
	var rateData struct {
		Rate string `json:"rate"`
	}
	json.Unmarshal(env.Data, &rateData)
	if rateData.Rate != "50000000000000000" {
		t.Fatalf("rate = %s", rateData.Rate)
	}

	env = do(t, r, "POST", "/api/paywall/transferOwnership", "0xdeployer", gin.H{"newOwner": "0xnext"})
	if env.Code != 1 {
		t.Fatalf("transferOwnership code=%d msg=%s", env.Code, env.Msg)
	}
	env = do(t, r, "GET", "/api/paywall/owner", "", nil)
	var ownerData struct {
		Owner string `json:"owner"`
	}
	json.Unmarshal(env.Data, &ownerData)
	if ownerData.Owner != "0xnext" {
		t.Fatalf("owner = %s", ownerData.Owner)
	}
}

func TestApiSnapshotAdminFlow(t *testing.T) {
	snapshotDir := t.TempDir()
	common.Config = &common.AllConfig{AdminToken: "secret"}
	common.Config.Ledger.SnapshotDir = snapshotDir
	t.Cleanup(func() { common.Config = nil })

	r := newTestRouter(t)
	do(t, r, "POST", "/api/paywall/create", "", gin.H{"feeAmount": "100", "owner": "0xcreator"})
	do(t, r, "POST", "/api/paywall/grant", "0xbuyer", gin.H{"assetId": 1, "grantee": "0xbuyer", "payment": "100"})

	// wrong token is still rejected
	req := httptest.NewRequest("GET", "/api/paywall/snapshot", nil)
	req.Header.Set(adminHeader, "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Code != 401 {
		t.Fatalf("wrong token: code=%d", env.Code)
	}

	// export returns the raw compressed snapshot
	req = httptest.NewRequest("GET", "/api/paywall/snapshot", nil)
	req.Header.Set(adminHeader, "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("export status %d", w.Code)
	}
	data := w.Body.Bytes()
	if len(data) == 0 {
		t.Fatal("empty snapshot export")
	}

	// save writes a snapshot file under the configured directory
	req = httptest.NewRequest("POST", "/api/paywall/snapshot/save", nil)
	req.Header.Set(adminHeader, "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Code != 1 {
		t.Fatalf("save code=%d msg=%s", env.Code, env.Msg)
	}
	var saved struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(env.Data, &saved); err != nil || saved.File == "" {
		t.Fatalf("save data = %s, err = %v", env.Data, err)
	}
	if _, err := os.Stat(filepath.Join(snapshotDir, saved.File)); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	// restore the export into a fresh ledger
	r2 := newTestRouter(t)
	req = httptest.NewRequest("POST", "/api/paywall/snapshot/restore", bytes.NewReader(data))
	req.Header.Set(adminHeader, "secret")
	w = httptest.NewRecorder()
	r2.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Code != 1 {
		t.Fatalf("restore code=%d msg=%s", env.Code, env.Msg)
	}
	env = do(t, r2, "GET", "/api/paywall/hasAccess?assetId=1&address=0xbuyer", "", nil)
	var accessData struct {
		HasAccess bool `json:"hasAccess"`
	}
	json.Unmarshal(env.Data, &accessData)
	if !accessData.HasAccess {
		t.Fatal("access lost across export/restore")
	}
	env = do(t, r2, "GET", "/api/paywall/pendingWithdrawals/1", "", nil)
	var amountData struct {
		Amount string `json:"amount"`
	}
	json.Unmarshal(env.Data, &amountData)
	if amountData.Amount != "99" {
		t.Fatalf("pending after restore = %s, want 99", amountData.Amount)
	}
}
