/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package auditlog is the optional --audit-db session ledger
// (SPEC_FULL.md §3.3): an append-only gorm/sqlite table recording one row
// per session, opened only when a path is configured. Nothing in the
// transfer engine or dispatch core depends on this package being wired;
// it observes sessions from the outside via Open/Record.
package auditlog

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sabouaram/netbridge/logger"
)

// Record is one append-only row: a completed or in-progress session.
type Record struct {
	ID         uint `gorm:"primarykey"`
	SessionID  string
	RemoteAddr string
	Mode       string
	StartedAt  time.Time
	ClosedAt   *time.Time
	BytesIn    int64
	BytesOut   int64
}

// Ledger is the opened audit database handle.
type Ledger struct {
	db *gorm.DB
}

// Open creates (or reuses) the sqlite file at path and migrates the
// Record schema, logging through the teacher's gorm logger adapter so a
// slow or failing insert surfaces through the same sink as everything
// else rather than to gorm's own default stdout logger.
func Open(path string, log logger.Logger) (*Ledger, error) {
	cfg := &gorm.Config{
		Logger: logger.NewGormLogger(func() logger.Logger { return log }, true, 200*time.Millisecond),
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Start inserts the opening row for a new session and returns its id.
func (l *Ledger) Start(sessionID, remoteAddr, mode string) error {
	return l.db.Create(&Record{
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Mode:       mode,
		StartedAt:  time.Now(),
	}).Error
}

// Close stamps the closing time and byte counters onto sessionID's row.
func (l *Ledger) Close(sessionID string, bytesIn, bytesOut int64) error {
	now := time.Now()
	return l.db.Model(&Record{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"closed_at": &now,
			"bytes_in":  bytesIn,
			"bytes_out": bytesOut,
		}).Error
}

// CloseDB closes the underlying sql.DB handle on graceful shutdown.
func (l *Ledger) CloseDB() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
