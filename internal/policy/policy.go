// Package policy は操作ごとの認可判定を提供する。
// ハンドラーやサービスはロールや所有者を直接比較せず、Decideに問い合わせる。
package policy

import "github.com/hitoshi/ulib/internal/model"

// Operation は認可判定の対象となる操作。
type Operation string

const (
	OpAuthorCreate   Operation = "author.create"
	OpAuthorUpdate   Operation = "author.update"
	OpAuthorDelete   Operation = "author.delete"
	OpBookCreate     Operation = "book.create"
	OpBookUpdate     Operation = "book.update"
	OpBookDelete     Operation = "book.delete"
	OpCommentCreate  Operation = "comment.create"
	OpCommentDelete  Operation = "comment.delete"
	OpListToggle     Operation = "library.toggleList"
	OpFavoriteToggle Operation = "library.toggleFavorite"
	OpRate           Operation = "library.rate"
	OpProfileUpdate  Operation = "profile.update"
	OpProfileDelete  Operation = "profile.delete"
)

// Tier は操作に必要な認可レベル。
type Tier int

const (
	// TierPublic は認証不要。
	TierPublic Tier = iota
	// TierAuthenticated は登録済みユーザーであれば許可。
	TierAuthenticated
	// TierOwnerOrAdmin はリソースの所有者または管理者のみ許可。
	TierOwnerOrAdmin
	// TierAdmin は管理者のみ許可。
	TierAdmin
)

var tiers = map[Operation]Tier{
	OpAuthorCreate:   TierAdmin,
	OpAuthorUpdate:   TierAdmin,
	OpAuthorDelete:   TierAdmin,
	OpBookCreate:     TierAdmin,
	OpBookUpdate:     TierAdmin,
	OpBookDelete:     TierAdmin,
	OpCommentCreate:  TierAuthenticated,
	OpCommentDelete:  TierOwnerOrAdmin,
	OpListToggle:     TierAuthenticated,
	OpFavoriteToggle: TierAuthenticated,
	OpRate:           TierAuthenticated,
	OpProfileUpdate:  TierOwnerOrAdmin,
	OpProfileDelete:  TierOwnerOrAdmin,
}

// TierOf は操作に必要な認可レベルを返す。未知の操作は管理者のみとする。
func TierOf(op Operation) Tier {
	if t, ok := tiers[op]; ok {
		return t
	}
	return TierAdmin
}

// Resource は認可判定の対象リソース。所有者を持たないリソースではOwnerUIDは空。
type Resource struct {
	OwnerUID string
}

// Decision は認可判定の結果。
type Decision int

const (
	Deny Decision = iota
	Allow
)

// Decide はactorがresourceに対してopを実行できるかを判定する。actorがnilの場合は未認証として扱う。
func Decide(op Operation, actor *model.Actor, resource Resource) Decision {
	tier := TierOf(op)
	if tier == TierPublic {
		return Allow
	}
	if actor == nil || actor.UID == "" {
		return Deny
	}

	switch tier {
	case TierAuthenticated:
		return Allow
	case TierOwnerOrAdmin:
		if actor.IsAdmin() || (resource.OwnerUID != "" && resource.OwnerUID == actor.UID) {
			return Allow
		}
	case TierAdmin:
		if actor.IsAdmin() {
			return Allow
		}
	}
	return Deny
}

// Authorize はDecideの結果をエラーに変換する。
// 未認証の場合はUNAUTHENTICATED、権限不足の場合はFORBIDDENを返す。
func Authorize(op Operation, actor *model.Actor, resource Resource) error {
	if Decide(op, actor, resource) == Allow {
		return nil
	}
	if actor == nil || actor.UID == "" {
		return model.NewUnauthenticatedError()
	}
	return model.NewForbiddenError()
}

// AuthorizeSelf はuidのユーザーが自分自身のデータに対してopを実行できるかを判定する。
func AuthorizeSelf(op Operation, uid string) error {
	return Authorize(op, &model.Actor{UID: uid}, Resource{OwnerUID: uid})
}
