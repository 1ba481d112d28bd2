package library

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ulib/internal/model"
	"github.com/hitoshi/ulib/internal/repository"
)

const (
	bookX    = "3f2a1b0c-9d8e-4f7a-8b6c-5d4e3f2a1b0c"
	authorID = "8a1d4f0e-3c2b-4b7a-9f6e-1d2c3b4a5f60"
	missing  = "5e4d3c2b-1a09-4f8e-8d7c-6b5a4f3e2d1c"
)

// --- インメモリのフェイク ---

type listKey struct {
	uid    string
	list   model.ListName
	bookID string
}

type ratingKey struct {
	uid    string
	bookID string
}

type aggregate struct {
	sum   int64
	count int
}

// memoryLibrary はLibraryRepositoryのインメモリ実装。
// 1つのミューテックスでPostgreSQLの行ロックを代用する。
type memoryLibrary struct {
	mu         sync.Mutex
	lists      map[listKey]bool
	favorites  map[string][]model.FavoriteEntry
	ratings    map[ratingKey]int
	aggregates map[string]*aggregate
}

func newMemoryLibrary(bookIDs ...string) *memoryLibrary {
	m := &memoryLibrary{
		lists:      map[listKey]bool{},
		favorites:  map[string][]model.FavoriteEntry{},
		ratings:    map[ratingKey]int{},
		aggregates: map[string]*aggregate{},
	}
	for _, id := range bookIDs {
		m.aggregates[id] = &aggregate{}
	}
	return m
}

func (m *memoryLibrary) ToggleList(_ context.Context, uid string, list model.ListName, bookID string) (model.ToggleStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := listKey{uid, list, bookID}
	if m.lists[k] {
		delete(m.lists, k)
		return model.ToggleRemoved, nil
	}
	m.lists[k] = true
	return model.ToggleAdded, nil
}

func (m *memoryLibrary) ToggleFavorite(_ context.Context, uid, authorID string) (model.ToggleStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.favorites[uid]
	for i, e := range entries {
		if e.AuthorID == authorID {
			m.favorites[uid] = append(entries[:i:i], entries[i+1:]...)
			return model.ToggleRemoved, nil
		}
	}
	m.favorites[uid] = append(entries, model.FavoriteEntry{AuthorID: authorID})
	return model.ToggleAdded, nil
}

func (m *memoryLibrary) ListFavorites(_ context.Context, uid string) ([]model.FavoriteEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.FavoriteEntry{}, m.favorites[uid]...), nil
}

func (m *memoryLibrary) Library(_ context.Context, uid string) (*model.UserLibrary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lib := model.NewUserLibrary()
	for k := range m.lists {
		if k.uid == uid {
			lib.Lists[k.list] = append(lib.Lists[k.list], model.ListEntry{BookID: k.bookID})
		}
	}
	return lib, nil
}

func (m *memoryLibrary) UserBookData(_ context.Context, uid string, bookIDs []string) (map[string]model.UserBookData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]model.UserBookData{}
	for _, id := range bookIDs {
		var ud model.UserBookData
		for _, l := range model.AllowedLists {
			if m.lists[listKey{uid, l, id}] {
				ud.Lists = append(ud.Lists, l)
			}
		}
		if r, ok := m.ratings[ratingKey{uid, id}]; ok {
			r := r
			ud.Rating = &r
		}
		out[id] = ud
	}
	return out, nil
}

func (m *memoryLibrary) SetRating(_ context.Context, uid, bookID string, rating *int) (model.RatingChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggregates[bookID]
	if !ok {
		return model.RatingChange{}, repository.ErrNotFound
	}

	k := ratingKey{uid, bookID}
	prev, had := m.ratings[k]
	action := model.RatingNoop
	switch {
	case rating == nil && had:
		delete(m.ratings, k)
		agg.sum -= int64(prev)
		agg.count--
		action = model.RatingDeleted
	case rating != nil && had:
		m.ratings[k] = *rating
		agg.sum += int64(*rating - prev)
		action = model.RatingUpdated
	case rating != nil:
		m.ratings[k] = *rating
		agg.sum += int64(*rating)
		agg.count++
		action = model.RatingInserted
	}

	b := model.Book{RatingSum: agg.sum, RatingsCount: agg.count}
	return model.RatingChange{Action: action, AverageRating: b.AverageRating(), RatingsCount: agg.count}, nil
}

func (m *memoryLibrary) RecomputeAggregate(_ context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggregates[bookID]
	if !ok {
		return repository.ErrNotFound
	}
	agg.sum, agg.count = 0, 0
	for k, r := range m.ratings {
		if k.bookID == bookID {
			agg.sum += int64(r)
			agg.count++
		}
	}
	return nil
}

func (m *memoryLibrary) ReconcileAggregates(ctx context.Context) (int64, error) {
	var ids []string
	m.mu.Lock()
	for id := range m.aggregates {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.RecomputeAggregate(ctx, id); err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}

var _ repository.LibraryRepository = (*memoryLibrary)(nil)

type mockUsers struct {
	findByUIDFn func(ctx context.Context, uid string) (*model.User, error)
}

func (m *mockUsers) FindByUID(ctx context.Context, uid string) (*model.User, error) {
	return m.findByUIDFn(ctx, uid)
}

type mockBooks struct {
	findByIDFn func(ctx context.Context, id string) (*model.Book, error)
}

func (m *mockBooks) FindByID(ctx context.Context, id string) (*model.Book, error) {
	return m.findByIDFn(ctx, id)
}

type mockAuthors struct {
	findByIDFn func(ctx context.Context, id string) (*model.Author, error)
}

func (m *mockAuthors) FindByID(ctx context.Context, id string) (*model.Author, error) {
	return m.findByIDFn(ctx, id)
}

type mockRecorder struct {
	mu        sync.Mutex
	toggles   []string
	ratings   []string
	reconcile []int64
}

func (m *mockRecorder) RecordToggle(kind, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggles = append(m.toggles, kind+":"+status)
}
func (m *mockRecorder) RecordRating(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings = append(m.ratings, action)
}
func (m *mockRecorder) RecordReconcile(repaired int64, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcile = append(m.reconcile, repaired)
}

type fixture struct {
	svc  *Service
	repo *memoryLibrary
	rec  *mockRecorder
}

// newFixture はユーザーA・B・Cと書籍X・著者1件が存在する状態を用意する。
func newFixture() *fixture {
	repo := newMemoryLibrary(bookX)
	rec := &mockRecorder{}
	users := &mockUsers{findByUIDFn: func(_ context.Context, uid string) (*model.User, error) {
		switch uid {
		case "A", "B", "C":
			return &model.User{UID: uid, Role: model.RoleUser}, nil
		}
		return nil, nil
	}}
	books := &mockBooks{findByIDFn: func(_ context.Context, id string) (*model.Book, error) {
		if id == bookX {
			return &model.Book{ID: id}, nil
		}
		return nil, nil
	}}
	authors := &mockAuthors{findByIDFn: func(_ context.Context, id string) (*model.Author, error) {
		if id == authorID {
			return &model.Author{ID: id}, nil
		}
		return nil, nil
	}}
	return &fixture{
		svc:  NewService(repo, users, books, authors, rec),
		repo: repo,
		rec:  rec,
	}
}

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

func intPtr(v int) *int { return &v }

// --- リストのトグル ---

func TestToggleListMembership_DoubleToggleRestoresState(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, list := range model.AllowedLists {
		status, err := f.svc.ToggleListMembership(ctx, "A", string(list), bookX)
		require.NoError(t, err)
		assert.Equal(t, model.ToggleAdded, status)

		status, err = f.svc.ToggleListMembership(ctx, "A", string(list), bookX)
		require.NoError(t, err)
		assert.Equal(t, model.ToggleRemoved, status)
	}

	data, err := f.repo.UserBookData(ctx, "A", []string{bookX})
	require.NoError(t, err)
	assert.Empty(t, data[bookX].Lists)
	assert.Len(t, f.rec.toggles, 8)
}

func TestToggleListMembership_PlannedScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	status, err := f.svc.ToggleListMembership(ctx, "A", "plannedBooks", bookX)
	require.NoError(t, err)
	assert.Equal(t, model.ToggleAdded, status)

	data, _ := f.repo.UserBookData(ctx, "A", []string{bookX})
	assert.Equal(t, []model.ListName{model.ListPlanned}, data[bookX].Lists)

	status, err = f.svc.ToggleListMembership(ctx, "A", "plannedBooks", bookX)
	require.NoError(t, err)
	assert.Equal(t, model.ToggleRemoved, status)

	data, _ = f.repo.UserBookData(ctx, "A", []string{bookX})
	assert.Empty(t, data[bookX].Lists)
}

func TestToggleListMembership_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ToggleListMembership(ctx, "A", "wishlist", bookX)
	requireAPIError(t, err, model.ErrCodeInvalidList)

	_, err = f.svc.ToggleListMembership(ctx, "ghost", "readBooks", bookX)
	requireAPIError(t, err, model.ErrCodeUserNotFound)

	_, err = f.svc.ToggleListMembership(ctx, "A", "readBooks", missing)
	requireAPIError(t, err, model.ErrCodeBookNotFound)

	_, err = f.svc.ToggleListMembership(ctx, "A", "readBooks", "507f1f77bcf86cd799439011")
	requireAPIError(t, err, model.ErrCodeBookNotFound)
}

// --- お気に入り ---

func TestToggleFavoriteAuthor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	status, favs, err := f.svc.ToggleFavoriteAuthor(ctx, "A", authorID)
	require.NoError(t, err)
	assert.Equal(t, model.ToggleAdded, status)
	require.Len(t, favs, 1)
	assert.Equal(t, authorID, favs[0].AuthorID)

	status, favs, err = f.svc.ToggleFavoriteAuthor(ctx, "A", authorID)
	require.NoError(t, err)
	assert.Equal(t, model.ToggleRemoved, status)
	assert.Empty(t, favs)

	_, _, err = f.svc.ToggleFavoriteAuthor(ctx, "A", missing)
	requireAPIError(t, err, model.ErrCodeAuthorNotFound)

	_, _, err = f.svc.ToggleFavoriteAuthor(ctx, "ghost", authorID)
	requireAPIError(t, err, model.ErrCodeUserNotFound)
}

// --- 評価 ---

func TestSetRating_AverageScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SetRating(ctx, "A", bookX, intPtr(8))
	require.NoError(t, err)
	change, err := f.svc.SetRating(ctx, "B", bookX, intPtr(10))
	require.NoError(t, err)
	require.NotNil(t, change.AverageRating)
	assert.Equal(t, 9.0, *change.AverageRating)
	assert.Equal(t, 2, change.RatingsCount)

	change, err = f.svc.SetRating(ctx, "A", bookX, intPtr(4))
	require.NoError(t, err)
	assert.Equal(t, model.RatingUpdated, change.Action)
	assert.Equal(t, 7.0, *change.AverageRating)
	assert.Equal(t, 2, change.RatingsCount)
}

func TestSetRating_NullRemovesExactlyOne(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _ = f.svc.SetRating(ctx, "A", bookX, intPtr(6))
	_, _ = f.svc.SetRating(ctx, "B", bookX, intPtr(2))

	change, err := f.svc.SetRating(ctx, "A", bookX, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RatingDeleted, change.Action)
	assert.Equal(t, 1, change.RatingsCount)
	assert.Equal(t, 2.0, *change.AverageRating)

	change, err = f.svc.SetRating(ctx, "A", bookX, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RatingNoop, change.Action)
	assert.Equal(t, 1, change.RatingsCount)

	change, err = f.svc.SetRating(ctx, "B", bookX, nil)
	require.NoError(t, err)
	assert.Zero(t, change.RatingsCount)
	assert.Nil(t, change.AverageRating)
}

func TestSetRating_LatestRatingWins(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, r := range []int{3, 9, 5} {
		_, err := f.svc.SetRating(ctx, "A", bookX, intPtr(r))
		require.NoError(t, err)
	}

	change, err := f.svc.SetRating(ctx, "A", bookX, intPtr(5))
	require.NoError(t, err)
	assert.Equal(t, 1, change.RatingsCount)
	assert.Equal(t, 5.0, *change.AverageRating)
}

func TestSetRating_ConcurrentRatersMatchRecompute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, uid := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func(uid string, r int) {
			defer wg.Done()
			_, err := f.svc.SetRating(ctx, uid, bookX, intPtr(r))
			assert.NoError(t, err)
		}(uid, i+1)
	}
	wg.Wait()

	f.repo.mu.Lock()
	incremental := *f.repo.aggregates[bookX]
	f.repo.mu.Unlock()

	require.NoError(t, f.svc.RecomputeAggregate(ctx, bookX))
	assert.Equal(t, *f.repo.aggregates[bookX], incremental)
	assert.Equal(t, aggregate{sum: 6, count: 3}, incremental)
}

func TestSetRating_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, r := range []int{0, 11, -1} {
		_, err := f.svc.SetRating(ctx, "A", bookX, intPtr(r))
		requireAPIError(t, err, model.ErrCodeInvalidRating)
	}

	_, err := f.svc.SetRating(ctx, "ghost", bookX, intPtr(5))
	requireAPIError(t, err, model.ErrCodeUserNotFound)

	_, err = f.svc.SetRating(ctx, "A", missing, intPtr(5))
	requireAPIError(t, err, model.ErrCodeBookNotFound)

	_, err = f.svc.SetRating(ctx, "A", "not-a-uuid", intPtr(5))
	requireAPIError(t, err, model.ErrCodeBookNotFound)

	assert.Empty(t, f.rec.ratings)
}

// --- 集計値の修復 ---

func TestReconcileAggregates_HealsDrift(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _ = f.svc.SetRating(ctx, "A", bookX, intPtr(7))

	// 手動SQLによる食い違いを再現する
	f.repo.mu.Lock()
	f.repo.aggregates[bookX].sum = 100
	f.repo.mu.Unlock()

	n, err := f.svc.ReconcileAggregates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, aggregate{sum: 7, count: 1}, *f.repo.aggregates[bookX])
	assert.Equal(t, []int64{1}, f.rec.reconcile)
}

func TestRecomputeAggregate_NotFound(t *testing.T) {
	f := newFixture()

	requireAPIError(t, f.svc.RecomputeAggregate(context.Background(), missing), model.ErrCodeBookNotFound)
}

func TestLibrary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ToggleListMembership(ctx, "A", "readBooks", bookX)
	require.NoError(t, err)

	lib, err := f.svc.Library(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, lib.Lists[model.ListRead], 1)
	assert.Empty(t, lib.Lists[model.ListPlanned])
}

func TestLibraryOperations_RequireCaller(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ToggleListMembership(ctx, "", "readBooks", bookX)
	requireAPIError(t, err, model.ErrCodeUnauthenticated)

	_, _, err = f.svc.ToggleFavoriteAuthor(ctx, "", authorID)
	requireAPIError(t, err, model.ErrCodeUnauthenticated)

	_, err = f.svc.SetRating(ctx, "", bookX, intPtr(5))
	requireAPIError(t, err, model.ErrCodeUnauthenticated)

	assert.Empty(t, f.rec.toggles)
}
