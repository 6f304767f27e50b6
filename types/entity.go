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

package types

import (
	"context"
	"time"
)

// SoftDeletable marks an entity whose rows are logically deleted by setting a
// timestamp. The backing field must carry the bun tag
// `bun:",soft_delete,nullzero"` so default queries skip deleted rows.
type SoftDeletable interface {
	GetDeletedAt() time.Time
	SetDeletedAt(t time.Time)
}

// SoftDeleteHook is invoked on a SoftDeletable entity right before the
// logical deletion is persisted. Returning an error aborts the delete.
type SoftDeleteHook interface {
	OnSoftDelete(ctx context.Context) error
}

// SoftDeleteModel can be embedded to get a ready-made deletion timestamp.
//
//	type Post struct {
//		bun.BaseModel `bun:"table:posts"`
//		ID int64 `bun:",pk,autoincrement"`
//		types.SoftDeleteModel
//	}
type SoftDeleteModel struct {
	DeletedAt time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

func (m *SoftDeleteModel) GetDeletedAt() time.Time { return m.DeletedAt }

func (m *SoftDeleteModel) SetDeletedAt(t time.Time) { m.DeletedAt = t }

// IsDeleted reports whether the deletion timestamp is set.
func (m *SoftDeleteModel) IsDeleted() bool { return !m.DeletedAt.IsZero() }
