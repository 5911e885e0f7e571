package respond

type ApiResponse struct {
	Code int         `json:"code"`
	Msg  string      `json:"message"`
	Data interface{} `json:"data"`
}

var (
	ErrParameterError = &ApiResponse{Code: 400, Msg: "parameter error"}
	ErrServiceError   = &ApiResponse{Code: 500, Msg: "service error"}
	ErrNoAssetFound   = &ApiResponse{Code: 404, Msg: "no asset found"}
)

func ApiError(code int, msg string) (res *ApiResponse) {
	return &ApiResponse{Code: code, Msg: msg}
}

func ApiSuccess(code int, msg string, data interface{}) (res *ApiResponse) {
	return &ApiResponse{Code: code, Msg: msg, Data: data}
}
