package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, catalog, library, comment, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // バリデーションエラー時のフィールド別メッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeNotRegistered     = "NOT_REGISTERED"
	ErrCodeAlreadyRegistered = "ALREADY_REGISTERED"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeBookNotFound      = "BOOK_NOT_FOUND"
	ErrCodeAuthorNotFound    = "AUTHOR_NOT_FOUND"
	ErrCodeCommentNotFound   = "COMMENT_NOT_FOUND"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInvalidList       = "INVALID_LIST"
	ErrCodeInvalidRating     = "INVALID_RATING"
	ErrCodeAuthorHasBooks    = "AUTHOR_HAS_BOOKS"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewNotRegisteredError はIdP上のアカウントは存在するがユーザー登録が未完了の場合のエラーを生成する。
func NewNotRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeNotRegistered,
		Message:  "ユーザー登録が完了していません。",
		Category: "auth",
		Action:   "ユーザー登録を完了してください。",
	}
}

// NewAlreadyRegisteredError は登録済みユーザーが再登録しようとした場合のエラーを生成する。
func NewAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRegistered,
		Message:  "このアカウントは既に登録されています。",
		Category: "auth",
		Action:   "そのままログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewBookNotFoundError は書籍が見つからない場合のエラーを生成する。
func NewBookNotFoundError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("指定された書籍が見つかりません: %s", bookID),
		Category: "catalog",
		Action:   "書籍IDを確認してください。",
	}
}

// NewAuthorNotFoundError は著者が見つからない場合のエラーを生成する。
func NewAuthorNotFoundError(authorID string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthorNotFound,
		Message:  fmt.Sprintf("指定された著者が見つかりません: %s", authorID),
		Category: "catalog",
		Action:   "著者IDを確認してください。",
	}
}

// NewCommentNotFoundError はコメントが見つからない場合のエラーを生成する。
func NewCommentNotFoundError(commentID string) *APIError {
	return &APIError{
		Code:     ErrCodeCommentNotFound,
		Message:  fmt.Sprintf("指定されたコメントが見つかりません: %s", commentID),
		Category: "comment",
		Action:   "コメントIDを確認してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// リソースの存在有無は漏らさない。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewValidationError はフィールド制約違反エラーを生成する。
// fieldsには違反した全フィールドのメッセージを含める。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Fields:   fields,
	}
}

// NewInvalidRequestError はリクエストボディの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidListError は許可されていないリスト名が指定された場合のエラーを生成する。
func NewInvalidListError(list string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidList,
		Message:  fmt.Sprintf("無効なリスト名です: %s", list),
		Category: "validation",
		Action:   "readBooks、currentlyReadingBooks、plannedBooks、abandonedBooks のいずれかを指定してください。",
	}
}

// NewInvalidRatingError は評価値が範囲外の場合のエラーを生成する。
func NewInvalidRatingError(rating int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRating,
		Message:  fmt.Sprintf("無効な評価値です: %d", rating),
		Category: "validation",
		Action:   "評価は1から10の整数、または削除する場合はnullを指定してください。",
	}
}

// NewAuthorHasBooksError は書籍を持つ著者を削除しようとした場合のエラーを生成する。
func NewAuthorHasBooksError(bookCount int) *APIError {
	return &APIError{
		Code:     ErrCodeAuthorHasBooks,
		Message:  fmt.Sprintf("著者に書籍が%d件登録されているため削除できません。", bookCount),
		Category: "catalog",
		Action:   "先に著者の書籍をすべて削除してください。",
	}
}

// NewRateLimitedError はレート制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRouteNotFoundError は存在しないエンドポイントへのリクエストに対するエラーを生成する。
func NewRouteNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "指定されたエンドポイントは存在しません。",
		Category: "system",
		Action:   "URLを確認してください。",
	}
}

// NewMethodNotAllowedError はエンドポイントが対応していないHTTPメソッドに対するエラーを生成する。
func NewMethodNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeMethodNotAllowed,
		Message:  "このエンドポイントは指定されたHTTPメソッドに対応していません。",
		Category: "system",
		Action:   "HTTPメソッドを確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
