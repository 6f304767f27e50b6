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

package query

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/tomoncle/bunrepo/types"
)

type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name"`
}

type Reviewer struct {
	Name string
}

type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	ID         int64      `bun:"id,pk,autoincrement"`
	Title      string     `bun:"title,notnull"`
	Body       string     `bun:"body"`
	Rank       int        `bun:"rank"`
	Created    time.Time  `bun:"created,notnull"`
	AuthorID   int64      `bun:"author_id"`
	Author     *Author    `bun:"rel:belongs-to,join:author_id=id"`
	Comments   []*Comment `bun:"rel:has-many,join:id=post_id"`
	ReviewerID uuid.UUID  `bun:"reviewer_id,type:varchar(36)"`
	Reviewer   *Reviewer  `bun:"-"`
}

type Comment struct {
	bun.BaseModel `bun:"table:comments,alias:c"`

	ID     int64   `bun:"id,pk,autoincrement"`
	PostID int64   `bun:"post_id"`
	Text   string  `bun:"text"`
	Votes  []*Vote `bun:"rel:has-many,join:id=comment_id"`
}

type Vote struct {
	bun.BaseModel `bun:"table:votes,alias:v"`

	ID        int64 `bun:"id,pk,autoincrement"`
	CommentID int64 `bun:"comment_id"`
	Up        bool  `bun:"up"`
}

type Note struct {
	bun.BaseModel `bun:"table:notes,alias:n"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Text string `bun:"text"`
	types.SoftDeleteModel
}

type Draft struct {
	bun.BaseModel `bun:"table:drafts,alias:d"`

	ID       int64   `bun:"id,pk,autoincrement"`
	Title    string  `bun:"title"`
	AuthorID int64   `bun:"author_id"`
	Author   *Author `bun:"rel:belongs-to,join:author_id=id"`
	types.SoftDeleteModel
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{(*Author)(nil), (*Post)(nil), (*Comment)(nil), (*Vote)(nil), (*Note)(nil), (*Draft)(nil)} {
		_, err := db.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}
	return db
}

func insert(t *testing.T, db bun.IDB, models ...interface{}) {
	t.Helper()
	for _, m := range models {
		_, err := db.NewInsert().Model(m).Exec(context.Background())
		require.NoError(t, err)
	}
}

var testNow = time.Now().UTC().Truncate(time.Second)

// seedPosts inserts five posts. By id:
//
//	1 "Hello World"     rank 3  two years old
//	2 "Second"          rank 1  six months old
//	3 "Third"           rank 2  one month old
//	4 "Fourth"          rank 2  ten days old
//	5 "Fifth 50% off"   rank 5  one day old
func seedPosts(t *testing.T, db bun.IDB) []*Post {
	t.Helper()
	posts := []*Post{
		{Title: "Hello World", Body: "first post", Rank: 3, Created: testNow.AddDate(-2, 0, 0)},
		{Title: "Second", Body: "hello again friends", Rank: 1, Created: testNow.AddDate(0, -6, 0)},
		{Title: "Third", Body: "nothing here", Rank: 2, Created: testNow.AddDate(0, -1, 0)},
		{Title: "Fourth", Body: "more of the same", Rank: 2, Created: testNow.AddDate(0, 0, -10)},
		{Title: "Fifth 50% off", Body: "sale", Rank: 5, Created: testNow.AddDate(0, 0, -1)},
	}
	for _, p := range posts {
		insert(t, db, p)
	}
	return posts
}

func ids(posts []*Post) []int64 {
	out := make([]int64, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
