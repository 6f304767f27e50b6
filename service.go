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

// Package bunrepo exposes Service, a repository bound lazily to the global
// database of package database.
package bunrepo

import (
	"context"
	"sync"

	"github.com/uptrace/bun"

	"github.com/tomoncle/bunrepo/database"
	"github.com/tomoncle/bunrepo/query"
	"github.com/tomoncle/bunrepo/repository"
	"github.com/tomoncle/bunrepo/types"
)

type Service[T any] interface {
	// Get returns a single entity by its identifier, or nil when absent.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query selects entities matching a raw WHERE fragment.
	Query(ctx context.Context, where string, args ...interface{}) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Find starts a staged query.
	Find() query.Filterable[T]

	// Update overwrites an existing entity by primary key.
	Update(ctx context.Context, model *T) (bool, error)

	// Delete removes an entity by its identifier. Soft-deletable entities are
	// only marked deleted unless force is set.
	Delete(ctx context.Context, id any, force bool) (bool, error)

	// Restore clears the deletion mark of a soft-deleted entity.
	Restore(ctx context.Context, id any) (bool, error)

	// Save inserts one or more new entities.
	Save(ctx context.Context, model ...*T) error

	// SaveOrUpdate upserts entities, updating fields on duplicateKeys conflicts.
	SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error

	// Upsert inserts model or overwrites the row with the same key.
	Upsert(ctx context.Context, model *T) (*T, error)

	SaveWithTx(ctx context.Context, tx bun.Tx, model ...*T) error

	SaveOrUpdateWithTx(ctx context.Context, tx bun.Tx, fields []string, duplicateKeys []string, model ...*T) error

	UpdateWithTx(ctx context.Context, tx bun.Tx, model *T) (bool, error)

	DeleteWithTx(ctx context.Context, tx bun.Tx, id any, force bool) (bool, error)

	// SelectBuilder returns a Bun select query on the entity's table.
	SelectBuilder() *bun.SelectQuery

	InsertBuilder() *bun.InsertQuery

	UpdateBuilder() *bun.UpdateQuery

	DeleteBuilder() *bun.DeleteQuery
}

type baseServiceImpl[T any] struct {
	opts []repository.Option[T]

	mu   sync.Mutex
	db   *bun.DB
	repo repository.Repository[T]
}

// NewService returns a Service on the global database of package database.
// It may be created before InitDB runs; until then every call fails with
// database.ErrNotInitialized. The builder methods, which cannot return an
// error, panic with it instead.
func NewService[T any](opts ...repository.Option[T]) Service[T] {
	return &baseServiceImpl[T]{opts: opts}
}

// baseRepo returns a repository on the current global pool. Reconnects and
// a repeated InitDB replace the pool, so the binding follows database.GetDB.
func (s *baseServiceImpl[T]) baseRepo() (repository.Repository[T], error) {
	db := database.GetDB()
	if db == nil {
		return nil, database.ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo == nil || s.db != db {
		s.db = db
		s.repo = repository.NewRepository[T](db, s.opts...)
	}
	return s.repo, nil
}

func (s *baseServiceImpl[T]) mustRepo() repository.Repository[T] {
	repo, err := s.baseRepo()
	if err != nil {
		panic(err)
	}
	return repo
}

func (s *baseServiceImpl[T]) txRepo(tx bun.Tx) repository.Repository[T] {
	return repository.NewRepository[T](tx, s.opts...)
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.AddRange(ctx, model...)
}

func (s *baseServiceImpl[T]) SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.UpsertFields(ctx, fields, duplicateKeys, model...)
}

func (s *baseServiceImpl[T]) Upsert(ctx context.Context, model *T) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Upsert(ctx, model)
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.GetByID(ctx, id)
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.GetAll(ctx)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.List(ctx, filter)
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, where string, args ...interface{}) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Query(ctx, where, args...)
}

// Find binds to the pool current at call time; a chain kept across a
// reconnect must be started again.
func (s *baseServiceImpl[T]) Find() query.Filterable[T] {
	repo, err := s.baseRepo()
	if err != nil {
		return query.Failed[T](err)
	}
	return repo.AsQuery()
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model *T) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.Update(ctx, model)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id any, force bool) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.DeleteByID(ctx, id, force)
}

func (s *baseServiceImpl[T]) Restore(ctx context.Context, id any) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.Restore(ctx, id)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Page(ctx, page)
}

func (s *baseServiceImpl[T]) SaveWithTx(ctx context.Context, tx bun.Tx, model ...*T) error {
	return s.txRepo(tx).AddRange(ctx, model...)
}

func (s *baseServiceImpl[T]) SaveOrUpdateWithTx(ctx context.Context, tx bun.Tx, fields []string, duplicateKeys []string, model ...*T) error {
	return s.txRepo(tx).UpsertFields(ctx, fields, duplicateKeys, model...)
}

func (s *baseServiceImpl[T]) UpdateWithTx(ctx context.Context, tx bun.Tx, model *T) (bool, error) {
	return s.txRepo(tx).Update(ctx, model)
}

func (s *baseServiceImpl[T]) DeleteWithTx(ctx context.Context, tx bun.Tx, id any, force bool) (bool, error) {
	return s.txRepo(tx).DeleteByID(ctx, id, force)
}

func (s *baseServiceImpl[T]) SelectBuilder() *bun.SelectQuery {
	return s.mustRepo().NewSelect().Model((*T)(nil))
}

func (s *baseServiceImpl[T]) InsertBuilder() *bun.InsertQuery {
	return s.mustRepo().NewInsert()
}

func (s *baseServiceImpl[T]) UpdateBuilder() *bun.UpdateQuery {
	return s.mustRepo().NewUpdate().Model((*T)(nil))
}

func (s *baseServiceImpl[T]) DeleteBuilder() *bun.DeleteQuery {
	return s.mustRepo().NewDelete().Model((*T)(nil))
}
