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

// Package database provides connection management for MySQL, PostgreSQL and
// SQLite on top of Bun: YAML configuration with DB_* environment overrides,
// pool tuning, health checks with reconnect, query hooks (echo, slow query,
// Prometheus metrics), SQL error classification, and versioned migrations
// guarded to run once per process and context.
package database
