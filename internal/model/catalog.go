package model

import "time"

// Author は著者を表す。
// BookIDsは著者に紐づく書籍の登録順シーケンスで、books.author_idから導出される。
type Author struct {
	ID          string
	Name        string
	Country     string
	Description string
	Photo       string
	BookIDs     []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuthorWithFavorite は著者とリクエスト元ユーザーのお気に入り状態を結合したモデル。
type AuthorWithFavorite struct {
	Author
	IsFavorite bool
}

// AuthorFilter は著者一覧の検索条件。
type AuthorFilter struct {
	Search string
}

// Book は書籍を表す。
// RatingSumとRatingsCountは評価の書き込みと同一トランザクションで更新される派生値。
type Book struct {
	ID           string
	Title        string
	AuthorID     string
	AuthorName   string
	Year         *int
	Cover        string
	Genres       []string
	RatingSum    int64
	RatingsCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AverageRating は平均評価を返す。評価が1件もない場合はnilを返す。
func (b *Book) AverageRating() *float64 {
	if b.RatingsCount == 0 {
		return nil
	}
	avg := float64(b.RatingSum) / float64(b.RatingsCount)
	return &avg
}

// BookWithUserData は書籍とリクエスト元ユーザーのリスト所属・評価を結合したモデル。
type BookWithUserData struct {
	Book
	UserData UserBookData
}

// BookSort は書籍一覧のソートキー。
type BookSort string

const (
	BookSortTitle     BookSort = "title"
	BookSortYear      BookSort = "year"
	BookSortRating    BookSort = "rating"
	BookSortCreatedAt BookSort = "createdAt"
)

// SortOrder はソート順。
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// BookFilter は書籍一覧の検索条件。
// ListNameとUserUIDは両方指定された場合のみ有効。
type BookFilter struct {
	AuthorID string
	Search   string
	Sort     BookSort
	Order    SortOrder
	ListName ListName
	UserUID  string
}

// BookInput は書籍の作成・更新に使う入力値。
type BookInput struct {
	Title    string
	AuthorID string
	Year     *int
	Cover    string
	Genres   []string
}

// AuthorInput は著者の作成・更新に使う入力値。
type AuthorInput struct {
	Name        string
	Country     string
	Description string
	Photo       string
}

// BookDeletion は書籍削除のカスケードで削除された関連レコード数。
type BookDeletion struct {
	ListEntries int64
	Ratings     int64
	Comments    int64
}
