package godb

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Rollback undoes the changes made by tid by reading the log backwards and
// reverting every page it updated. Not required for ordinary
// TransactionComplete(tid, false) abort (that path uses in-memory
// before-images, spec.md §4.3); Rollback exists for the case where tid's
// before-images are no longer cached and only the log retains them.
func (bp *BufferPool) Rollback(tid TransactionID) error {
	if bp.logFile == nil {
		return fmt.Errorf("log file not initialized")
	}

	iter, err := bp.logFile.ReverseIterator()
	if err != nil {
		return err
	}

	for record, err := iter(); record != nil && err == nil; record, err = iter() {
		if record.Tid() != tid {
			continue
		}

		if record.Type() == BeginRecord {
			break
		}

		if record.Type() == UpdateRecord {
			switch b := record.(*UpdateLogRecord).Before.(type) {
			case *heapPage:
				bp.DiscardPage(b.getFile().pageKey(b.PageNo()))
				b.getFile().flushPage(b)
			default:
				return fmt.Errorf("unexpected page type")
			}
		}
	}

	return bp.logFile.seek(0, io.SeekEnd)

}

// Recover replays logFile against the buffer pool. This should be called
// when the database is started, even if the log file is empty. WAL replay
// correctness (ARIES-style redo/undo on crash) is explicitly out of scope
// (spec.md's non-goals); this implementation is kept as a non-load-bearing
// convenience that never runs during ordinary transaction processing.
func (bp *BufferPool) Recover(logFile *LogFile) error {

	bp.mu.Lock()
	bp.logFile = logFile
	bp.mu.Unlock()

	if err := bp.logFile.seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start of file: %w", err)
	}

	// replay updates from the log and record losers
	losers := make(map[TransactionID]int64)
	iter := bp.logFile.ForwardIterator()
	record, err := iter()
	for record != nil && err == nil {
		bp.log.Debug("recovering log record", zap.Int32("tid", int32(record.Tid())), zap.Stringer("type", record.Type()))
		switch record.Type() {
		case BeginRecord:
			// record that a transaction has started
			losers[record.Tid()] = record.Offset()
		case AbortRecord, CommitRecord:
			// if the transaction has committed or aborted, it is no longer a loser
			delete(losers, record.Tid())
		case UpdateRecord:
			updateRecord := record.(*UpdateLogRecord)

			// apply updates as we see them
			after := updateRecord.After.(*heapPage)
			pageKey := after.getFile().pageKey(after.PageNo())
			bp.log.Info("recovery redo", zap.Any("page", pageKey))
			bp.DiscardPage(pageKey)
			if err := after.getFile().flushPage(after); err != nil {
				return err
			}
		}
		record, err = iter()
	}
	if err != nil {
		return err
	}

	// losers now contains the transactions that did not commit before the crash
	iter, err = bp.logFile.ReverseIterator()
	if err != nil {
		return fmt.Errorf("failed to create rev iterator: %w", err)
	}
	record, err = iter()
	for len(losers) > 0 && record != nil && err == nil {
		tid := record.Tid()
		_, is_loser := losers[tid]
		if is_loser {
			switch record.Type() {
			case UpdateRecord:
				updateRecord := record.(*UpdateLogRecord)
				page := updateRecord.Before.(*heapPage)
				pageKey := page.getFile().pageKey(page.PageNo())
				bp.log.Info("recovery undo", zap.Any("page", pageKey))
				bp.DiscardPage(pageKey)
				if err := page.getFile().flushPage(page); err != nil {
					return err
				}
			case BeginRecord:
				// seek to end of log, write an abort record, seek back
				offset := bp.logFile.offset
				if err := bp.logFile.seek(0, io.SeekEnd); err != nil {
					return err
				}
				bp.logFile.LogAbort(tid)
				if err := bp.logFile.Force(); err != nil {
					return err
				}
				if err := bp.logFile.seek(offset, io.SeekStart); err != nil {
					return err
				}
				delete(losers, tid)
			}
		}
		record, err = iter()
	}
	if err != nil {
		return fmt.Errorf("failed to read from reversed iterator: %w", err)
	}

	// reset to end of log
	return bp.logFile.seek(0, io.SeekEnd)
}
