package sqldbi

import (
	"context"
	"fmt"
	"sync"

	"biostore/pkg/domain"
)

// StartOperationsBlock opens a logical transaction. Blocks nest; the
// physical transaction begins with the outermost one.
func (d *Dbi) StartOperationsBlock(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkReady(); err != nil {
		return err
	}
	if d.readOnly {
		return fmt.Errorf("start operations block: %w", domain.ErrReadOnly)
	}
	if d.blocks == 0 {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		d.tx = tx
		d.failed = false
	}
	d.blocks++
	return nil
}

// StopOperationsBlock closes the innermost block. Closing the outermost one
// commits, or rolls back if any write inside the stack failed.
func (d *Dbi) StopOperationsBlock(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopBlock(false)
}

func (d *Dbi) stopBlock(failed bool) error {
	if d.blocks == 0 {
		return domain.Preconditionf("stop operations block without a matching start")
	}
	if failed {
		d.failed = true
	}
	d.blocks--
	if d.blocks > 0 {
		return nil
	}
	tx := d.tx
	d.tx = nil
	if d.failed {
		d.failed = false
		d.metrics.Rollback()
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		return ErrRolledBack
	}
	if err := tx.Commit(); err != nil {
		d.metrics.Rollback()
		return fmt.Errorf("commit: %w", err)
	}
	d.commits++
	d.metrics.Commit()
	return nil
}

// RunInOperationsBlock runs fn inside a block. An error from fn marks the
// stack failed so the outermost block rolls back; fn's error is returned.
func (d *Dbi) RunInOperationsBlock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := d.StartOperationsBlock(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	d.mu.Lock()
	stopErr := d.stopBlock(err != nil)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return stopErr
}

func (d *Dbi) IsTransactionActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocks > 0
}

// CommitCount returns the number of physical commits since construction.
func (d *Dbi) CommitCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

func (d *Dbi) DbMutex() *sync.Mutex { return &d.mu }
