// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者。カタログの編集・削除と他人のコメント削除が可能。
	RoleAdmin Role = "admin"
)

// User はユーザーディレクトリのエントリを表す。
// IdP側のアカウントとはUIDで紐付く。
type User struct {
	UID       string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin は管理者ロールかどうかを返す。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Identity はIdPで検証済みのトークンから得られる外部アイデンティティ。
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Claims        map[string]any
}

// Actor は認可判定の主体（リクエスト元ユーザー）を表す。
type Actor struct {
	UID  string
	Role Role
}

// IsAdmin は管理者かどうかを返す。
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
