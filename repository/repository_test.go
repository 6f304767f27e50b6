/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/tomoncle/bunrepo/dto"
	"github.com/tomoncle/bunrepo/query"
	"github.com/tomoncle/bunrepo/types"
)

type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	ID      int64     `bun:"id,pk,autoincrement"`
	Title   string    `bun:"title,notnull"`
	Body    string    `bun:"body"`
	Rank    int       `bun:"rank"`
	Created time.Time `bun:"created,notnull"`
}

type Note struct {
	bun.BaseModel `bun:"table:notes,alias:n"`

	ID        int64  `bun:"id,pk,autoincrement"`
	Text      string `bun:"text"`
	DeletedBy string `bun:"deleted_by"`
	Locked    bool   `bun:"locked"`
	types.SoftDeleteModel
}

var errLocked = errors.New("note is locked")

func (n *Note) OnSoftDelete(context.Context) error {
	if n.Locked {
		return errLocked
	}
	n.DeletedBy = "system"
	return nil
}

type Setting struct {
	bun.BaseModel `bun:"table:settings,alias:s"`

	Name  string `bun:"name,unique"`
	Value string `bun:"value"`
}

var now = time.Now().UTC().Truncate(time.Second)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	for _, model := range []interface{}{(*Post)(nil), (*Note)(nil), (*Setting)(nil)} {
		_, err := db.NewCreateTable().Model(model).Exec(context.Background())
		require.NoError(t, err)
	}
	return db
}

func TestAddThenGetFirstThenDelete(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()

	added, err := repo.Add(ctx, &Post{Title: "Hello World", Created: now})
	require.NoError(t, err)
	assert.NotZero(t, added.ID)

	found, err := repo.Where(query.Eq("Title", "Hello World")).GetFirst(ctx)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, added.ID, found.ID)

	ok, err := repo.Delete(ctx, found, false)
	require.NoError(t, err)
	assert.True(t, ok)

	gone, err := repo.GetByID(ctx, added.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestWhereCreatedWithinLastYear(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.AddRange(ctx,
		&Post{Title: "old", Created: now.AddDate(-2, 0, 0)},
		&Post{Title: "recent", Created: now.AddDate(0, -6, 0)},
	))

	posts, err := repo.Where(query.Gt("created", now.AddDate(-1, 0, 0))).GetList(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "recent", posts[0].Title)

	n, err := repo.Where(query.Gt("created", now.AddDate(-1, 0, 0))).
		UpdateRange(ctx, func(p *Post) { p.Title = "X" })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := repo.Where(query.Eq("title", "old")).Get(ctx)
	require.NoError(t, err)
	assert.NotNil(t, old)
}

func TestEmptyListsAreNotNil(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)

	listed, err := repo.List(ctx, types.NewQueryFilter("rank > ?", 3))
	require.NoError(t, err)
	assert.NotNil(t, listed)

	queried, err := repo.Query(ctx, "title = ?", "x")
	require.NoError(t, err)
	assert.NotNil(t, queried)
}

func TestListAndQueryFilter(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.AddRange(ctx,
		&Post{Title: "a", Rank: 1, Created: now},
		&Post{Title: "b", Rank: 5, Created: now},
	))

	listed, err := repo.List(ctx, types.NewQueryFilter("rank > ?", 3))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "b", listed[0].Title)

	unfiltered, err := repo.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, unfiltered, 2)

	queried, err := repo.Query(ctx, "title = ?", "a")
	require.NoError(t, err)
	require.Len(t, queried, 1)
	assert.Equal(t, 1, queried[0].Rank)
}

func TestArgumentValidation(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()

	_, err := repo.Add(ctx, nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.ErrorIs(t, repo.AddRange(ctx, &Post{}, nil), types.ErrInvalidArgument)
	_, err = repo.GetByID(ctx, nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = repo.Update(ctx, nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = repo.UpdateByID(ctx, 1, nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = repo.Delete(ctx, nil, false)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.ErrorIs(t, repo.UpsertFields(ctx, nil, nil, &Post{}), types.ErrInvalidArgument)
}

func TestUpdateAndUpdateByID(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()
	p, err := repo.Add(ctx, &Post{Title: "draft", Created: now})
	require.NoError(t, err)

	p.Title = "final"
	ok, err := repo.Update(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Update(ctx, &Post{ID: 999, Title: "ghost", Created: now})
	require.NoError(t, err)
	assert.False(t, ok)

	updated, err := repo.UpdateByID(ctx, p.ID, func(p *Post) { p.Rank = 7 })
	require.NoError(t, err)
	require.NotNil(t, updated)

	reloaded, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", reloaded.Title)
	assert.Equal(t, 7, reloaded.Rank)

	missing, err := repo.UpdateByID(ctx, 999, func(p *Post) { p.Rank = 1 })
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertByPrimaryKey(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()

	inserted, err := repo.Upsert(ctx, &Post{Title: "first", Created: now})
	require.NoError(t, err)
	require.NotZero(t, inserted.ID)

	_, err = repo.Upsert(ctx, &Post{ID: inserted.ID, Title: "overwritten", Created: now})
	require.NoError(t, err)

	explicit, err := repo.Upsert(ctx, &Post{ID: 42, Title: "explicit id", Created: now})
	require.NoError(t, err)
	assert.EqualValues(t, 42, explicit.ID)

	all, err := repo.OrderBy("id").GetList(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "overwritten", all[0].Title)
	assert.Equal(t, "explicit id", all[1].Title)
}

func TestUpsertOverwritesSoftDeletedRow(t *testing.T) {
	repo := NewRepository[Note](newTestDB(t))
	ctx := context.Background()
	n, err := repo.Add(ctx, &Note{Text: "v1"})
	require.NoError(t, err)
	_, err = repo.Delete(ctx, n, false)
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, &Note{ID: n.ID, Text: "v2"})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", got.Text)
	assert.False(t, got.IsDeleted())
}

func TestUpsertWithKeyFunc(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := NewRepository[Setting](db).Upsert(ctx, &Setting{Name: "theme", Value: "dark"})
	assert.ErrorIs(t, err, types.ErrInvariantViolation)

	repo := NewRepository[Setting](db, WithKeyFunc[Setting]("Name", func(s *Setting) any { return s.Name }))
	_, err = repo.Upsert(ctx, &Setting{Name: "theme", Value: "dark"})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, &Setting{Name: "theme", Value: "light"})
	require.NoError(t, err)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "light", all[0].Value)

	nilKey := NewRepository[Setting](db, WithKeyFunc[Setting]("name", func(*Setting) any { return nil }))
	_, err = nilKey.Upsert(ctx, &Setting{Name: "x"})
	assert.ErrorIs(t, err, types.ErrInvariantViolation)
}

func TestUpsertWithKeyFuncReturnsStoredID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewRepository[Post](db, WithKeyFunc[Post]("Title", func(p *Post) any { return p.Title }))

	first, err := repo.Add(ctx, &Post{Title: "k", Body: "v1", Created: now})
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	got, err := repo.Upsert(ctx, &Post{Title: "k", Body: "v2", Created: now})
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	stored, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "v2", stored.Body)

	fresh, err := repo.Upsert(ctx, &Post{Title: "other", Created: now})
	require.NoError(t, err)
	assert.NotZero(t, fresh.ID)
	assert.NotEqual(t, first.ID, fresh.ID)

	n, err := repo.AsQuery().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsertFieldsOnConflict(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()
	p, err := repo.Add(ctx, &Post{Title: "before", Body: "kept", Created: now})
	require.NoError(t, err)

	err = repo.UpsertFields(ctx, []string{"Title"}, nil,
		&Post{ID: p.ID, Title: "after", Body: "ignored", Created: now},
		&Post{ID: 50, Title: "new", Created: now},
	)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
	assert.Equal(t, "kept", got.Body)

	n, err := repo.AsQuery().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsertFallbackUpdatesOnDuplicateKey(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t)).(*baseRepositoryImpl[Post])
	ctx := context.Background()
	p, err := repo.Add(ctx, &Post{Title: "before", Created: now})
	require.NoError(t, err)

	err = repo.upsertFallback(ctx, []*Post{
		{ID: p.ID, Title: "after", Created: now},
		{Title: "fresh", Created: now},
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
	n, err := repo.AsQuery().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSoftDeleteKeepsRowAndRunsHook(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository[Note](db)
	ctx := context.Background()
	n, err := repo.Add(ctx, &Note{Text: "hello"})
	require.NoError(t, err)

	ok, err := repo.Delete(ctx, n, false)
	require.NoError(t, err)
	assert.True(t, ok)

	hidden, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	raw := new(Note)
	require.NoError(t, db.NewSelect().Model(raw).Where("id = ?", n.ID).WhereDeleted().Scan(ctx))
	assert.True(t, raw.IsDeleted())
	assert.Equal(t, "system", raw.DeletedBy)

	ok, err = repo.Delete(ctx, raw, false)
	require.NoError(t, err)
	assert.False(t, ok, "already deleted")

	ok, err = repo.Delete(ctx, raw, true)
	require.NoError(t, err)
	assert.True(t, ok)
	total, err := db.NewSelect().Model((*Note)(nil)).WhereAllWithDeleted().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSoftDeleteHookErrorAborts(t *testing.T) {
	repo := NewRepository[Note](newTestDB(t))
	ctx := context.Background()
	n, err := repo.Add(ctx, &Note{Text: "keep", Locked: true})
	require.NoError(t, err)

	ok, err := repo.Delete(ctx, n, false)
	assert.ErrorIs(t, err, errLocked)
	assert.False(t, ok)
	assert.False(t, n.IsDeleted())

	still, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestCancelledContextSurfaces(t *testing.T) {
	db := newTestDB(t)
	posts := NewRepository[Post](db)
	notes := NewRepository[Note](db)
	live := context.Background()
	p, err := posts.Add(live, &Post{Title: "kept", Created: now})
	require.NoError(t, err)
	n, err := notes.Add(live, &Note{Text: "kept"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(live)
	cancel()

	_, err = posts.Add(ctx, &Post{Title: "never", Created: now})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = posts.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = posts.Where(query.Eq("title", "kept")).GetList(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = posts.AsQuery().UpdateRange(ctx, func(p *Post) { p.Title = "X" })
	assert.ErrorIs(t, err, context.Canceled)

	_, err = posts.Delete(ctx, p, false)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = notes.Delete(ctx, n, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, n.IsDeleted())

	_, err = posts.Upsert(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)

	all, err := posts.GetAll(live)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].Title)
	still, err := notes.GetByID(live, n.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestDeleteByID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	notes := NewRepository[Note](db)
	n, err := notes.Add(ctx, &Note{Text: "by id"})
	require.NoError(t, err)

	ok, err := notes.DeleteByID(ctx, n.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)
	raw := new(Note)
	require.NoError(t, db.NewSelect().Model(raw).Where("id = ?", n.ID).WhereDeleted().Scan(ctx))
	assert.Equal(t, "system", raw.DeletedBy)

	ok, err = notes.DeleteByID(ctx, n.ID, false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = notes.DeleteByID(ctx, n.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	posts := NewRepository[Post](db)
	p, err := posts.Add(ctx, &Post{Title: "t", Created: now})
	require.NoError(t, err)
	ok, err = posts.DeleteByID(ctx, p.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = posts.DeleteByID(ctx, p.ID, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository[Note](db)
	ctx := context.Background()
	n, err := repo.Add(ctx, &Note{Text: "restore me"})
	require.NoError(t, err)

	ok, err := repo.Restore(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, ok, "not deleted yet")

	_, err = repo.Delete(ctx, n, false)
	require.NoError(t, err)

	ok, err = repo.Restore(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	back, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.False(t, back.IsDeleted())

	_, err = NewRepository[Post](db).Restore(ctx, 1)
	assert.ErrorIs(t, err, types.ErrInvariantViolation)
}

func TestPage(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()
	for i, rank := range []int{3, 1, 2, 2, 5} {
		_, err := repo.Add(ctx, &Post{Title: string(rune('a' + i)), Rank: rank, Created: now})
		require.NoError(t, err)
	}

	page, err := repo.Page(ctx, types.NewPageRequest(2, 2, types.NewQueryFilter("rank > ?", 1), []string{"rank DESC", "id"}))
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].Title)
	assert.Equal(t, "d", page.Items[1].Title)

	empty, err := repo.Page(ctx, types.NewPageRequestWithFilter(1, 10, types.NewQueryFilter("rank > ?", 100)))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.Items)

	unordered, err := repo.Page(ctx, types.NewDefaultPageRequest(1, 3))
	require.NoError(t, err)
	assert.Equal(t, 5, unordered.Total)
	assert.Len(t, unordered.Items, 3)
}

func TestRunInTxRollsBack(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Repository[Post]) error {
		if _, err := tx.Add(ctx, &Post{Title: "rolled back", Created: now}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = repo.RunInTx(ctx, func(ctx context.Context, tx Repository[Post]) error {
		_, err := tx.Add(ctx, &Post{Title: "committed", Created: now})
		return err
	})
	require.NoError(t, err)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "committed", all[0].Title)
}

func TestWithTx(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository[Post](db)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = repo.WithTx(tx).Add(ctx, &Post{Title: "in tx", Created: now})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	n, err := repo.AsQuery().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetByIDAs(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()
	p, err := repo.Add(ctx, &Post{Title: "mapped", Created: now})
	require.NoError(t, err)

	same, err := GetByIDAs[Post, Post](ctx, repo, p.ID, dto.PassThrough[Post, Post]{})
	require.NoError(t, err)
	assert.Equal(t, "mapped", same.Title)

	_, err = GetByIDAs[Post, Note](ctx, repo, p.ID, dto.PassThrough[Post, Note]{})
	assert.ErrorIs(t, err, dto.ErrIncompatible)

	missing, err := GetByIDAs[Post, Post](ctx, repo, 999, dto.PassThrough[Post, Post]{})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConcurrentUse(t *testing.T) {
	repo := NewRepository[Post](newTestDB(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Add(ctx, &Post{Title: "concurrent", Rank: i, Created: now})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := repo.Where(query.Eq("title", "concurrent")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}
