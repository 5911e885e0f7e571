package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jierlich/paywall/access"
	"github.com/jierlich/paywall/api/respond"
	"github.com/jierlich/paywall/common"
)

const callerHeader = "X-Caller-Address"
const adminHeader = "X-Admin-Token"

func paywallJsonApi(r *gin.Engine) {
	paywallGroup := r.Group("/api/paywall")
	paywallGroup.Use(CorsMiddleware())
	paywallGroup.POST("/create", createAsset)
	paywallGroup.POST("/grant", grantAccess)
	paywallGroup.POST("/withdraw", withdraw)
	paywallGroup.POST("/contractWithdraw", contractWithdraw)
	paywallGroup.POST("/changeAssetOwner", changeAssetOwner)
	paywallGroup.POST("/changeAssetFee", changeAssetFee)
	paywallGroup.POST("/changeContractFee", changeContractFee)
	paywallGroup.POST("/transferOwnership", transferOwnership)

	paywallGroup.GET("/asset/:id", getAsset)
	paywallGroup.GET("/hasAccess", hasAccess)
	paywallGroup.GET("/pendingWithdrawals/:id", pendingWithdrawals)
	paywallGroup.GET("/contractFeesAccrued", contractFeesAccrued)
	paywallGroup.GET("/contractFee", contractFee)
	paywallGroup.GET("/owner", contractOwner)
	paywallGroup.GET("/events", eventList)
	paywallGroup.GET("/grants/:id", grantList)
	paywallGroup.GET("/snapshot", exportSnapshot)
	paywallGroup.POST("/snapshot/save", saveSnapshot)
	paywallGroup.POST("/snapshot/restore", restoreSnapshot)
}

// Domain errors keep the HTTP status at 200 and report through the envelope
// code, same convention as the rest of the api.
func domainError(ctx *gin.Context, err error) {
	code := 500
	switch {
	case errors.Is(err, access.ErrNotFound):
		code = 404
	case errors.Is(err, access.ErrInvalidAmount):
		code = 402
	case errors.Is(err, access.ErrUnauthorized):
		code = 401
	case errors.Is(err, access.ErrInsufficientBalance):
		code = 403
	}
	ctx.JSON(http.StatusOK, respond.ApiError(code, err.Error()))
}

func caller(ctx *gin.Context) (string, bool) {
	address := ctx.GetHeader(callerHeader)
	if address == "" {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return "", false
	}
	return address, true
}

type assetView struct {
	Id        uint64 `json:"id"`
	Owner     string `json:"owner"`
	FeeAmount string `json:"feeAmount"`
}

type grantView struct {
	Seq           uint64 `json:"seq"`
	AssetId       uint64 `json:"assetId"`
	Grantee       string `json:"grantee"`
	Payer         string `json:"payer"`
	Amount        string `json:"amount"`
	OwnerShare    string `json:"ownerShare"`
	ContractShare string `json:"contractShare"`
	Timestamp     int64  `json:"timestamp"`
}

type createReq struct {
	FeeAmount string `json:"feeAmount"`
	Owner     string `json:"owner"`
}

func createAsset(ctx *gin.Context) {
	var req createReq
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	if req.FeeAmount == "" {
		req.FeeAmount = "0"
	}
	feeAmount, err := access.ParseAmount(req.FeeAmount)
	if err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	assetId, err := engine.Create(feeAmount, req.Owner)
	if err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"assetId": assetId}))
}

type grantReq struct {
	AssetId uint64 `json:"assetId"`
	Grantee string `json:"grantee"`
	Payment string `json:"payment"`
}

func grantAccess(ctx *gin.Context) {
	payer, ok := caller(ctx)
	if !ok {
		return
	}
	var req grantReq
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	if req.Payment == "" {
		req.Payment = "0"
	}
	payment, err := access.ParseAmount(req.Payment)
	if err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	if err := engine.GrantAccess(payer, req.AssetId, req.Grantee, payment); err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", nil))
}

type withdrawReq struct {
	AssetId uint64 `json:"assetId"`
}

func withdraw(ctx *gin.Context) {
	address, ok := caller(ctx)
	if !ok {
		return
	}
	var req withdrawReq
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	amount, err := engine.Withdraw(ctx.Request.Context(), address, req.AssetId)
	if err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"amount": amount.String()}))
}

func contractWithdraw(ctx *gin.Context) {
	address, ok := caller(ctx)
	if !ok {
		return
	}
	amount, err := engine.ContractWithdraw(ctx.Request.Context(), address)
	if err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"amount": amount.String()}))
}

type changeOwnerReq struct {
	AssetId  uint64 `json:"assetId"`
	NewOwner string `json:"newOwner"`
}

func changeAssetOwner(ctx *gin.Context) {
	address, ok := caller(ctx)
	if !ok {
		return
	}
	var req changeOwnerReq
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	if err := engine.ChangeAssetOwner(address, req.AssetId, req.NewOwner); err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", nil))
}

type changeFeeReq struct {
	AssetId uint64 `json:"assetId"`
	NewFee  string `json:"newFee"`
}

func changeAssetFee(ctx *gin.Context) {
	address, ok := caller(ctx)
	if !ok {
		return
	}
	var req changeFeeReq
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	newFee, err := access.ParseAmount(req.NewFee)
	if err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	if err := engine.ChangeAssetFee(address, req.AssetId, newFee); err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", nil))
}

type contractFeeReq struct {
	Rate string `json:"rate"` //decimal fraction, "0.01" = 1%
}

func changeContractFee(ctx *gin.Context) {
	address, ok := caller(ctx)
	if !ok {
		return
	}
	var req contractFeeReq
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	rate, err := access.ParseRate(req.Rate)
	if err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	if err := engine.ChangeContractFee(address, rate); err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", nil))
}

type transferOwnershipReq struct {
	NewOwner string `json:"newOwner"`
}

func transferOwnership(ctx *gin.Context) {
	address, ok := caller(ctx)
	if !ok {
		return
	}
	var req transferOwnershipReq
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	if err := engine.TransferOwnership(address, req.NewOwner); err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", nil))
}

func assetIdParam(ctx *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return 0, false
	}
	return id, true
}

func getAsset(ctx *gin.Context) {
	id, ok := assetIdParam(ctx)
	if !ok {
		return
	}
	asset, err := engine.Asset(id)
	if err != nil {
		domainError(ctx, err)
		return
	}
	view := assetView{Id: asset.Id, Owner: asset.Owner, FeeAmount: asset.FeeAmount.String()}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", view))
}

func hasAccess(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Query("assetId"), 10, 64)
	if err != nil || ctx.Query("address") == "" {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	granted, err := engine.AddressHasAccess(id, ctx.Query("address"))
	if err != nil {
		domainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"hasAccess": granted}))
}

func pendingWithdrawals(ctx *gin.Context) {
	id, ok := assetIdParam(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"amount": engine.PendingWithdrawals(id).String()}))
}

func contractFeesAccrued(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"amount": engine.ContractFeesAccrued().String()}))
}

func contractFee(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"rate": engine.ContractFee().String()}))
}

func contractOwner(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"owner": engine.ContractOwner()}))
}

func eventList(ctx *gin.Context) {
	events, err := engine.Events()
	if err != nil {
		ctx.JSON(http.StatusOK, respond.ErrServiceError)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", events))
}

func grantList(ctx *gin.Context) {
	id, ok := assetIdParam(ctx)
	if !ok {
		return
	}
	grants, err := engine.Grants(id)
	if err != nil {
		ctx.JSON(http.StatusOK, respond.ErrServiceError)
		return
	}
	views := make([]grantView, 0, len(grants))
	for _, grant := range grants {
		views = append(views, grantView{
			Seq:           grant.Seq,
			AssetId:       grant.AssetId,
			Grantee:       grant.Grantee,
			Payer:         grant.Payer,
			Amount:        grant.Amount.String(),
			OwnerShare:    grant.OwnerShare.String(),
			ContractShare: grant.ContractShare.String(),
			Timestamp:     grant.Timestamp,
		})
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", views))
}

func exportSnapshot(ctx *gin.Context) {
	if !common.CheckAdminToken(ctx.GetHeader(adminHeader)) {
		ctx.JSON(http.StatusOK, respond.ApiError(401, "admin token error"))
		return
	}
	data, err := engine.Export()
	if err != nil {
		ctx.JSON(http.StatusOK, respond.ErrServiceError)
		return
	}
	ctx.Data(http.StatusOK, "application/zstd", data)
}

func saveSnapshot(ctx *gin.Context) {
	if !common.CheckAdminToken(ctx.GetHeader(adminHeader)) {
		ctx.JSON(http.StatusOK, respond.ApiError(401, "admin token error"))
		return
	}
	dir := common.Config.Ledger.SnapshotDir
	if dir == "" {
		dir = "./snapshot"
	}
	name := fmt.Sprintf("paywall_%d.zst", time.Now().Unix())
	if err := engine.SaveSnapshotFile(dir, name); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrServiceError)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", gin.H{"file": name}))
}

func restoreSnapshot(ctx *gin.Context) {
	if !common.CheckAdminToken(ctx.GetHeader(adminHeader)) {
		ctx.JSON(http.StatusOK, respond.ApiError(401, "admin token error"))
		return
	}
	data, err := ctx.GetRawData()
	if err != nil || len(data) == 0 {
		ctx.JSON(http.StatusOK, respond.ErrParameterError)
		return
	}
	if err := engine.Import(data); err != nil {
		ctx.JSON(http.StatusOK, respond.ErrServiceError)
		return
	}
	ctx.JSON(http.StatusOK, respond.ApiSuccess(1, "ok", nil))
}
