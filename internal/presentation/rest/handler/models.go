package handler

// ErrorResponse エラーレスポンス
// @Description エラーレスポンス
type ErrorResponse struct {
	Error   string `json:"error" example:"insufficient_credits"`
	Message string `json:"message" example:"insufficient credits"`
}
