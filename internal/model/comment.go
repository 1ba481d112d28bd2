package model

import "time"

// MaxCommentLength はコメント本文の最大文字数。
const MaxCommentLength = 1000

// Comment は書籍へのコメントを表す。
// UserUIDが空の場合、投稿者は退会済み。
type Comment struct {
	ID        string
	UserUID   string
	UserName  string
	BookID    string
	Text      string
	CreatedAt time.Time
}

// CommentOrder はコメント一覧の並び順。
type CommentOrder string

const (
	// CommentsNewest は新しい順（デフォルト）。
	CommentsNewest CommentOrder = "newest"
	// CommentsOldest は古い順。
	CommentsOldest CommentOrder = "oldest"
)
