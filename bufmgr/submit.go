package bufmgr

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/internal/deps"
	"github.com/vkngwrapper/bufmgr/kmd"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

type externalTouch struct {
	bo     *BufferObject
	access deps.Access
}

// Submit executes a command buffer on a context. The submission waits on the fences of
// conflicting work from other contexts and signals a fresh fence from the context's pool;
// on success every buffer object on the exec list records that fence. A context the kernel
// has banned is replaced and the submission retried once.
func (m *Manager) Submit(cmd *CmdBuffer, h ContextHandle) error {
	m.logger.Debug("Manager::Submit")

	if cmd == nil || len(cmd.batches) == 0 {
		return errors.Wrap(ErrInvalidArgument, "submitting an empty command buffer")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.checkLiveLocked()
	if err != nil {
		return err
	}

	ctx, err := m.contextLocked(h)
	if err != nil {
		return err
	}

	if ctx.state == ContextBannedFatal {
		return errors.Wrapf(ErrSubmissionFatal, "context %s was banned and could not be recovered", h)
	}

	if len(cmd.batches) != ctx.config.width() {
		return errors.Wrapf(ErrInvalidArgument, "context %s takes %d batches per submission, %d were provided",
			h, ctx.config.width(), len(cmd.batches))
	}

	info := kmd.ExecInfo{
		Queue:     ctx.queue,
		Addresses: make([]uint64, 0, len(cmd.batches)),
	}

	for _, batch := range cmd.batches {
		if batch.released {
			return errors.Wrapf(ErrReleased, "submitting batch %q", batch.name)
		}

		err = m.ensureResidentLocked(batch)
		if err != nil {
			return err
		}
		info.Addresses = append(info.Addresses, batch.address)
	}

	if m.syncDisabled() {
		err = m.execLocked(ctx, info)
		if err != nil {
			return err
		}

		ctx.submissions++
		return nil
	}

	var touches []deps.Touch
	var externals []externalTouch
	add := func(bo *BufferObject, access deps.Access) {
		if bo.external {
			externals = append(externals, externalTouch{bo: bo, access: access})
			return
		}
		touches = append(touches, deps.Touch{Set: bo.deps, Access: access})
	}

	for _, batch := range cmd.batches {
		add(batch, deps.AccessWrite)
	}
	for _, entry := range cmd.entries {
		add(entry.bo, entry.access)
	}

	f, err := ctx.pool.Acquire()
	if err != nil {
		return markf(err, ErrSubmissionFatal, "drawing completion fence on context %s", h)
	}

	plan := deps.NewPlan(ctx.handle, touches)
	info.Waits = m.resolveLocked(plan.Waits())
	info.Signal = f.Point()

	var temps []kmd.SyncHandle
	defer func() {
		for _, temp := range temps {
			destroyErr := m.destroyTempSync(temp)
			if destroyErr != nil {
				m.logger.Error("error destroying temporary synchronization object", slog.Any("error", destroyErr))
			}
		}
	}()

	for _, ext := range externals {
		point, err := m.importBufferFenceLocked(ext.bo, ext.access)
		if err != nil {
			ctx.pool.Cancel(f)
			return markf(err, ErrSubmissionFatal, "collecting implicit fences on context %s", h)
		}

		temps = append(temps, point.Handle)
		info.Waits = append(info.Waits, point)
	}

	err = m.execLocked(ctx, info)
	if err != nil {
		ctx.pool.Cancel(f)
		return err
	}

	plan.Commit(f.Handle())
	ctx.submissions++

	var errs error
	for _, ext := range externals {
		errs = errors.CombineErrors(errs, m.exportBufferFence(ext.bo, ext.access, f.Point()))
	}

	return errs
}

// resolveLocked turns deps into the points a submission waits on. A dep whose context was
// destroyed or whose fence was recycled has already signaled and is dropped.
func (m *Manager) resolveLocked(waits []deps.Dep) []kmd.SyncPoint {
	points := make([]kmd.SyncPoint, 0, len(waits))

	for _, dep := range waits {
		ctx, err := m.contexts.Get(dep.Context)
		if err != nil {
			continue
		}

		f, err := ctx.pool.Lookup(dep.Fence)
		if err != nil {
			continue
		}

		points = append(points, f.Point())
	}

	return points
}

func (m *Manager) exec(info kmd.ExecInfo) error {
	return kmd.Retry(func() error {
		return m.driver.Exec(info)
	})
}

// execLocked issues a submission, replacing a banned queue and resubmitting once
func (m *Manager) execLocked(ctx *Context, info kmd.ExecInfo) error {
	err := m.exec(info)
	if err == nil {
		return nil
	}

	if !kmd.IsBanned(err) {
		return markf(err, ErrSubmissionFatal, "submitting on context %s", ctx.handle)
	}

	banned, queryErr := m.driver.GetQueueProperty(ctx.queue, kmd.QueuePropertyBan)
	if queryErr != nil || banned == 0 {
		cause := kmd.Errno("Exec", unix.EPERM)
		if queryErr != nil {
			cause = errors.CombineErrors(cause, queryErr)
		}
		return markf(cause, ErrSubmissionFatal, "context %s rejected a submission but is not banned", ctx.handle)
	}

	banErr := markf(err, ErrSubmissionRecoverable, "context %s banned", ctx.handle)
	m.logger.LogAttrs(context.Background(), slog.LevelWarn, "context banned, recovering",
		slog.String("context", ctx.handle.String()),
		slog.Uint64("queue", uint64(ctx.queue)),
		slog.Int("resets", ctx.resets),
	)

	ctx.state = ContextRetrying

	err = m.recoverLocked(ctx)
	if err != nil {
		ctx.state = ContextBannedFatal
		return markf(errors.WithSecondaryError(err, banErr), ErrSubmissionFatal, "replacing banned context %s", ctx.handle)
	}

	info.Queue = ctx.queue
	err = m.exec(info)
	if err != nil {
		ctx.state = ContextBannedFatal
		m.logger.LogAttrs(context.Background(), slog.LevelError, "resubmission after ban failed",
			slog.String("context", ctx.handle.String()),
			slog.Uint64("queue", uint64(ctx.queue)),
			slog.Any("error", err),
		)
		return markf(errors.WithSecondaryError(err, banErr), ErrSubmissionFatal, "resubmitting on recovered context %s", ctx.handle)
	}

	ctx.state = ContextActive
	return nil
}

// recoverLocked swaps a banned context's queue for a new one with the same configuration
func (m *Manager) recoverLocked(ctx *Context) error {
	queue, err := m.createQueueLocked(ctx.config)
	if err != nil {
		return err
	}

	old := ctx.queue
	err = m.driver.DestroyQueue(old)
	if err != nil {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to destroy banned queue",
			slog.Uint64("queue", uint64(old)),
			slog.Any("error", err),
		)
	}

	ctx.queue = queue
	ctx.resets++

	m.logger.LogAttrs(context.Background(), slog.LevelInfo, "context restored",
		slog.String("context", ctx.handle.String()),
		slog.Uint64("oldQueue", uint64(old)),
		slog.Uint64("queue", uint64(queue)),
		slog.Int("resets", ctx.resets),
	)

	return nil
}
