package model

import "github.com/google/uuid"

// NewID は新しいエンティティIDを生成する。
func NewID() string {
	return uuid.NewString()
}

// ParseID はクライアントから受け取ったIDを正規化する。
// UUIDとして解釈できない場合はfalseを返す。
func ParseID(raw string) (string, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
