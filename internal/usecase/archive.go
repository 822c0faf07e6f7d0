package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"quote-archiver/internal/archive"
	"quote-archiver/internal/domain"
	"quote-archiver/internal/retention"
)

const (
	defaultPageSize         = 100
	defaultWriteConcurrency = 8
	defaultLeaseTTL         = 15 * time.Minute
	archivalLeaseName       = "archival"
)

// ExpiryStore is the slice of the live store the archival job pages through.
type ExpiryStore interface {
	ExpiredMessages(ctx context.Context, cutoff time.Time, limit int, after domain.PageCursor) ([]domain.Message, error)
	DeleteMessages(ctx context.Context, ids []string) error
	ExpiredNotifications(ctx context.Context, cutoff time.Time, limit int, after domain.PageCursor) ([]domain.Notification, error)
	DeleteNotifications(ctx context.Context, ids []string) error
}

// ObjectWriter creates part-files in the cold store.
type ObjectWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// Locker guards the archival run against concurrent invocations.
type Locker interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (domain.Lease, bool, error)
	ReleaseLease(ctx context.Context, lease domain.Lease) error
}

type ArchiveOptions struct {
	// PageSize must not exceed the live store's atomic batch limit.
	PageSize         int
	WriteConcurrency int
	LeaseTTL         time.Duration
	// Locker is optional; without it non-overlap is the scheduler's job.
	Locker Locker
	Logger *slog.Logger
	Now    func() time.Time
}

type ArchiveResult struct {
	RunID                    string `json:"runId"`
	ArchivedMessageCount     int    `json:"archivedMessageCount"`
	DeletedNotificationCount int    `json:"deletedNotificationCount"`
	Pages                    int    `json:"pages"`
}

type ArchiveService struct {
	live             ExpiryStore
	cold             ObjectWriter
	policy           retention.Source
	locker           Locker
	pageSize         int
	writeConcurrency int
	leaseTTL         time.Duration
	logger           *slog.Logger
	now              func() time.Time

	running atomic.Bool
}

func NewArchiveService(live ExpiryStore, cold ObjectWriter, policy retention.Source, opts ArchiveOptions) (*ArchiveService, error) {
	if live == nil {
		return nil, errors.New("usecase: live store must not be nil")
	}
	if cold == nil {
		return nil, errors.New("usecase: cold store must not be nil")
	}
	if policy == nil {
		return nil, errors.New("usecase: retention policy source must not be nil")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.WriteConcurrency <= 0 {
		opts.WriteConcurrency = defaultWriteConcurrency
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ArchiveService{
		live:             live,
		cold:             cold,
		policy:           policy,
		locker:           opts.Locker,
		pageSize:         opts.PageSize,
		writeConcurrency: opts.WriteConcurrency,
		leaseTTL:         opts.LeaseTTL,
		logger:           opts.Logger,
		now:              opts.Now,
	}, nil
}

// RunArchival moves expired messages to the cold store and purges expired
// notifications. Counts accumulated before a failure are returned alongside
// the error.
func (s *ArchiveService) RunArchival(ctx context.Context) (ArchiveResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return ArchiveResult{}, newError(ErrorConflict, "archival_in_progress", nil)
	}
	defer s.running.Store(false)

	startedAt := s.now().UTC()
	res := ArchiveResult{RunID: archive.RunID(startedAt, newRunSuffix())}
	log := s.logger.With("runId", res.RunID)

	policy, err := s.policy.Load(ctx)
	if err != nil {
		return res, newError(ErrorConfig, "retention_policy_invalid", err)
	}

	var lease *runLease
	if s.locker != nil {
		held, ok, err := s.locker.AcquireLease(ctx, archivalLeaseName, res.RunID, s.leaseTTL, startedAt)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, newError(ErrorConflict, "archival_in_progress", nil)
		}
		lease = &runLease{locker: s.locker, held: held, ttl: s.leaseTTL, now: s.now}
		defer func() {
			if err := s.locker.ReleaseLease(context.WithoutCancel(ctx), lease.held); err != nil {
				log.Warn("failed to release archival lease", "err", err)
			}
		}()
	}

	msgCutoff, notifCutoff := policy.Cutoffs(startedAt)
	log.Info("archival run started",
		"messageCutoff", msgCutoff,
		"notificationCutoff", notifCutoff,
		"pageSize", s.pageSize,
	)

	msgErr := s.archiveMessages(ctx, log, lease, res.RunID, msgCutoff, &res)
	if msgErr != nil {
		log.Error("message archival aborted", "err", msgErr, "archived", res.ArchivedMessageCount)
	}
	if lease.isLost() {
		return res, msgErr
	}
	notifErr := s.purgeNotifications(ctx, lease, notifCutoff, &res)
	if notifErr != nil {
		log.Error("notification purge aborted", "err", notifErr, "deleted", res.DeletedNotificationCount)
	}

	log.Info("archival run finished",
		"archivedMessages", res.ArchivedMessageCount,
		"deletedNotifications", res.DeletedNotificationCount,
		"pages", res.Pages,
	)
	return res, errors.Join(msgErr, notifErr)
}

func (s *ArchiveService) archiveMessages(ctx context.Context, log *slog.Logger, lease *runLease, runID string, cutoff time.Time, res *ArchiveResult) error {
	var cursor domain.PageCursor
	for page := 1; ; page++ {
		msgs, err := s.live.ExpiredMessages(ctx, cutoff, s.pageSize, cursor)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		// Nothing in the page is deleted unless every partition write landed.
		if err := s.writePage(ctx, log, runID, page, msgs); err != nil {
			return err
		}
		if err := s.live.DeleteMessages(ctx, messageIDs(msgs)); err != nil {
			return err
		}

		res.ArchivedMessageCount += len(msgs)
		res.Pages++
		last := msgs[len(msgs)-1]
		cursor = domain.PageCursor{ID: last.ID, CreatedAt: last.CreatedAt}
		log.Debug("page archived", "page", page, "messages", len(msgs))

		if len(msgs) < s.pageSize {
			return nil
		}
		if err := lease.extend(ctx); err != nil {
			return err
		}
	}
}

// writePage writes one part-file per partition of the page. Groups are
// written concurrently and a failing group does not cancel its siblings.
func (s *ArchiveService) writePage(ctx context.Context, log *slog.Logger, runID string, page int, msgs []domain.Message) error {
	keys, groups := archive.Group(msgs)
	archivedAt := s.now().UTC()

	var g errgroup.Group
	g.SetLimit(s.writeConcurrency)
	for _, k := range keys {
		k := k
		batch := groups[k]
		g.Go(func() error {
			data, err := archive.EncodeLines(batch, archivedAt)
			if err != nil {
				return err
			}
			path := archive.PartPath(k, runID, page)
			if err := s.cold.Write(ctx, path, data, archive.ContentType); err != nil {
				log.Error("partition write failed", "partition", k.String(), "page", page, "err", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *ArchiveService) purgeNotifications(ctx context.Context, lease *runLease, cutoff time.Time, res *ArchiveResult) error {
	var cursor domain.PageCursor
	for {
		items, err := s.live.ExpiredNotifications(ctx, cutoff, s.pageSize, cursor)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		ids := make([]string, 0, len(items))
		for _, n := range items {
			ids = append(ids, n.ID)
		}
		if err := s.live.DeleteNotifications(ctx, ids); err != nil {
			return err
		}
		res.DeletedNotificationCount += len(items)

		last := items[len(items)-1]
		cursor = domain.PageCursor{ID: last.ID, CreatedAt: last.CreatedAt}
		if len(items) < s.pageSize {
			return nil
		}
		if err := lease.extend(ctx); err != nil {
			return err
		}
	}
}

// runLease keeps the cross-process lease of a run alive between pages.
// A nil *runLease means no lock table is configured.
type runLease struct {
	locker Locker
	held   domain.Lease
	ttl    time.Duration
	now    func() time.Time
	lost   bool
}

// extend pushes the expiry out by a full TTL. The lease condition lets the
// current owner re-acquire; any failure marks the lease lost.
func (l *runLease) extend(ctx context.Context) error {
	if l == nil {
		return nil
	}
	held, ok, err := l.locker.AcquireLease(ctx, l.held.Name, l.held.Owner, l.ttl, l.now().UTC())
	if err != nil {
		l.lost = true
		return err
	}
	if !ok {
		l.lost = true
		return newError(ErrorConflict, "archival_lease_lost", nil)
	}
	l.held = held
	return nil
}

func (l *runLease) isLost() bool {
	return l != nil && l.lost
}

func messageIDs(msgs []domain.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

var newRunSuffix = func() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:4])
}
