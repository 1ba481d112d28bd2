package model

import "time"

// ListName はユーザーごとの読書リスト名を表す。
type ListName string

const (
	// ListRead は読了リスト。
	ListRead ListName = "readBooks"
	// ListCurrentlyReading は読書中リスト。
	ListCurrentlyReading ListName = "currentlyReadingBooks"
	// ListPlanned は読みたいリスト。
	ListPlanned ListName = "plannedBooks"
	// ListAbandoned は中断リスト。
	ListAbandoned ListName = "abandonedBooks"
)

// AllowedLists は許可されたリスト名の一覧。並び順はレスポンスの並び順でもある。
var AllowedLists = []ListName{ListRead, ListCurrentlyReading, ListPlanned, ListAbandoned}

// ParseListName は文字列をListNameに変換する。許可されていない名前の場合はfalseを返す。
func ParseListName(s string) (ListName, bool) {
	for _, l := range AllowedLists {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// 評価値の範囲
const (
	MinRating = 1
	MaxRating = 10
)

// ToggleStatus はトグル操作の結果を表す。
type ToggleStatus string

const (
	// ToggleAdded は要素が追加されたことを示す。
	ToggleAdded ToggleStatus = "added"
	// ToggleRemoved は要素が削除されたことを示す。
	ToggleRemoved ToggleStatus = "removed"
)

// ListEntry は読書リストの1エントリ。
type ListEntry struct {
	BookID    string
	DateAdded time.Time
}

// RatingEntry はユーザーが付けた評価の1エントリ。
type RatingEntry struct {
	BookID string
	Rating int
}

// FavoriteEntry はお気に入り著者の1エントリ。
type FavoriteEntry struct {
	AuthorID  string
	DateAdded time.Time
}

// UserBookData は書籍ごとのユーザー固有データ（所属リストと評価）。
type UserBookData struct {
	Lists  []ListName
	Rating *int
}

// RatingAction は評価変更の種類を表す。
type RatingAction string

const (
	RatingInserted RatingAction = "inserted"
	RatingUpdated  RatingAction = "updated"
	RatingDeleted  RatingAction = "deleted"
	RatingNoop     RatingAction = "noop"
)

// RatingChange は評価変更の結果と変更後の集計値。
type RatingChange struct {
	Action        RatingAction
	AverageRating *float64
	RatingsCount  int
}

// UserLibrary はユーザーの読書リスト・評価・お気に入り著者をまとめたもの。
type UserLibrary struct {
	Lists     map[ListName][]ListEntry
	Ratings   []RatingEntry
	Favorites []FavoriteEntry
}

// NewUserLibrary は4つのリストを空で初期化したUserLibraryを返す。
func NewUserLibrary() *UserLibrary {
	lists := make(map[ListName][]ListEntry, len(AllowedLists))
	for _, l := range AllowedLists {
		lists[l] = []ListEntry{}
	}
	return &UserLibrary{
		Lists:     lists,
		Ratings:   []RatingEntry{},
		Favorites: []FavoriteEntry{},
	}
}
