package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ulib/internal/model"
)

func TestDecide(t *testing.T) {
	admin := &model.Actor{UID: "admin", Role: model.RoleAdmin}
	alice := &model.Actor{UID: "alice", Role: model.RoleUser}
	bob := &model.Actor{UID: "bob", Role: model.RoleUser}
	owned := Resource{OwnerUID: "alice"}

	tests := []struct {
		name     string
		op       Operation
		actor    *model.Actor
		resource Resource
		want     Decision
	}{
		{"未認証はリスト操作不可", OpListToggle, nil, Resource{}, Deny},
		{"ユーザーはリスト操作可", OpListToggle, alice, Resource{}, Allow},
		{"ユーザーは評価可", OpRate, alice, Resource{}, Allow},
		{"ユーザーはコメント投稿可", OpCommentCreate, bob, Resource{}, Allow},
		{"所有者はコメント削除可", OpCommentDelete, alice, owned, Allow},
		{"他人はコメント削除不可", OpCommentDelete, bob, owned, Deny},
		{"管理者は他人のコメント削除可", OpCommentDelete, admin, owned, Allow},
		{"退会済みユーザーのコメントは所有者なし", OpCommentDelete, alice, Resource{}, Deny},
		{"ユーザーは書籍削除不可", OpBookDelete, alice, Resource{}, Deny},
		{"管理者は書籍削除可", OpBookDelete, admin, Resource{}, Allow},
		{"ユーザーは著者追加不可", OpAuthorCreate, alice, Resource{}, Deny},
		{"管理者は著者追加可", OpAuthorCreate, admin, Resource{}, Allow},
		{"未知の操作は管理者のみ", Operation("unknown"), alice, Resource{}, Deny},
		{"空UIDは未認証扱い", OpRate, &model.Actor{}, Resource{}, Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.op, tt.actor, tt.resource))
		})
	}
}

func TestAuthorize(t *testing.T) {
	assert.NoError(t, Authorize(OpRate, &model.Actor{UID: "alice"}, Resource{}))

	var apiErr *model.APIError
	err := Authorize(OpRate, nil, Resource{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeUnauthenticated, apiErr.Code)

	err = Authorize(OpBookDelete, &model.Actor{UID: "alice", Role: model.RoleUser}, Resource{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeForbidden, apiErr.Code)
}

func TestTierOf(t *testing.T) {
	assert.Equal(t, TierAdmin, TierOf(OpBookDelete))
	assert.Equal(t, TierOwnerOrAdmin, TierOf(OpCommentDelete))
	assert.Equal(t, TierAuthenticated, TierOf(OpListToggle))
}

func TestAuthorizeSelf(t *testing.T) {
	for _, op := range []Operation{OpCommentCreate, OpListToggle, OpFavoriteToggle, OpRate, OpProfileUpdate, OpProfileDelete} {
		assert.NoError(t, AuthorizeSelf(op, "alice"), op)

		var apiErr *model.APIError
		require.True(t, errors.As(AuthorizeSelf(op, ""), &apiErr), op)
		assert.Equal(t, model.ErrCodeUnauthenticated, apiErr.Code, op)
	}

	var apiErr *model.APIError
	require.True(t, errors.As(AuthorizeSelf(OpBookDelete, "alice"), &apiErr))
	assert.Equal(t, model.ErrCodeForbidden, apiErr.Code)
}
