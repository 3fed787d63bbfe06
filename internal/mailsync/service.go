package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/znz-systems/mailmind/internal/ai"
	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/store"
)

var (
	ErrUserNotFound = errors.New("user not found")
	// ErrUnauthenticated means the user has no usable mailbox credential.
	// The caller has to send them through login again.
	ErrUnauthenticated = errors.New("mailbox credential missing or expired")
)

// Mailbox reads one user's remote mail.
type Mailbox interface {
	FetchMessages(ctx context.Context, folder string, pageSize, skip int) ([]models.CanonicalMessage, error)
}

// MailboxOpener returns a Mailbox authenticated with accessToken.
type MailboxOpener func(accessToken string) Mailbox

type Classifier interface {
	Classify(ctx context.Context, subject, body, from string) (*ai.Classification, error)
}

type Options struct {
	// PageSize is how many messages one fetch asks for.
	PageSize int
	// MaxPages bounds how many pages one sync reads. A further page is only
	// requested when the previous one was full and entirely new.
	MaxPages int
	// EnrichConcurrency bounds how many messages are persisted and enriched
	// at once. 1 processes them strictly in fetch order.
	EnrichConcurrency int
	// SentPageSize is how many of the newest sent messages each sync copies
	// into the sent folder, where reply drafting learns the user's writing
	// style. 0 disables it.
	SentPageSize int
}

// remoteSentFolder is the provider's well-known name for sent mail.
const remoteSentFolder = "sentitems"

const (
	defaultPageSize          = 50
	defaultMaxPages          = 1
	defaultEnrichConcurrency = 4
)

type Service struct {
	users      store.UserStore
	messages   store.MessageStore
	analyses   store.AnalysisStore
	open       MailboxOpener
	classifier Classifier

	pageSize     int
	maxPages     int
	concurrency  int
	sentPageSize int
	now          func() time.Time
}

func NewService(users store.UserStore, messages store.MessageStore, analyses store.AnalysisStore, open MailboxOpener, classifier Classifier, opts Options) *Service {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	concurrency := opts.EnrichConcurrency
	if concurrency <= 0 {
		concurrency = defaultEnrichConcurrency
	}

	return &Service{
		users:       users,
		messages:    messages,
		analyses:    analyses,
		open:        open,
		classifier:  classifier,
		pageSize:     pageSize,
		maxPages:     maxPages,
		concurrency:  concurrency,
		sentPageSize: opts.SentPageSize,
		now:          time.Now,
	}
}

// SyncUser pulls the newest inbox messages for the user, stores the ones not
// seen before and enriches each of them. It returns how many inbox messages
// were newly stored. Enrichment failures are logged and do not affect the
// count. Sent mail is copied afterwards without enrichment and is not
// counted; a failure there is only logged.
func (s *Service) SyncUser(ctx context.Context, userID string) (int, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("loading user %s: %w", userID, err)
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	if !user.HasValidToken(s.now()) {
		return 0, ErrUnauthenticated
	}

	mailbox := s.open(user.AccessToken)
	synced := 0

	for page := 0; page < s.maxPages; page++ {
		batch, err := mailbox.FetchMessages(ctx, models.DefaultFolder, s.pageSize, page*s.pageSize)
		if err != nil {
			return synced, fmt.Errorf("fetching inbox for user %s: %w", userID, err)
		}

		created, err := s.ingest(ctx, user.ID, batch)
		synced += created
		if err != nil {
			return synced, err
		}

		if len(batch) < s.pageSize || created < len(batch) {
			break
		}
	}

	if s.sentPageSize > 0 {
		s.syncSent(ctx, user.ID, mailbox)
	}

	slog.Info("mailbox synced", "user_id", user.ID, "synced", synced)
	return synced, nil
}

func (s *Service) syncSent(ctx context.Context, userID string, mailbox Mailbox) {
	batch, err := mailbox.FetchMessages(ctx, remoteSentFolder, s.sentPageSize, 0)
	if err != nil {
		slog.Warn("failed to fetch sent messages", "user_id", userID, "error", err)
		return
	}

	stored := 0
	for _, msg := range batch {
		existing, err := s.messages.GetMessage(ctx, msg.ID)
		if err != nil {
			slog.Warn("failed to check sent message", "user_id", userID, "message_id", msg.ID, "error", err)
			return
		}
		if existing != nil {
			continue
		}
		created, err := s.messages.CreateMessage(ctx, msg.ToMessage(userID, models.SentFolder))
		if err != nil {
			slog.Warn("failed to store sent message", "user_id", userID, "message_id", msg.ID, "error", err)
			return
		}
		if created {
			stored++
		}
	}
	if stored > 0 {
		slog.Debug("sent messages stored", "user_id", userID, "count", stored)
	}
}

func (s *Service) ingest(ctx context.Context, userID string, batch []models.CanonicalMessage) (int, error) {
	var created atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, msg := range batch {
		msg := msg
		g.Go(func() error {
			ok, err := s.ingestOne(gctx, userID, msg)
			if err != nil {
				return err
			}
			if ok {
				created.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(created.Load()), err
}

// ingestOne stores msg if its id is unknown and then enriches it. The
// provider id is the only dedup key.
func (s *Service) ingestOne(ctx context.Context, userID string, msg models.CanonicalMessage) (bool, error) {
	existing, err := s.messages.GetMessage(ctx, msg.ID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", msg.ID, err)
	}
	if existing != nil {
		return false, nil
	}

	created, err := s.messages.CreateMessage(ctx, msg.ToMessage(userID, models.DefaultFolder))
	if err != nil {
		return false, fmt.Errorf("storing message %s: %w", msg.ID, err)
	}
	if !created {
		// another sync stored it between the check and the insert
		return false, nil
	}

	if err := s.enrich(ctx, msg); err != nil {
		slog.Error("failed to enrich message", "user_id", userID, "message_id", msg.ID, "error", err)
	}
	return true, nil
}

func (s *Service) enrich(ctx context.Context, msg models.CanonicalMessage) error {
	c, err := s.classifier.Classify(ctx, msg.Subject, msg.Body, msg.From)
	if err != nil {
		return err
	}
	if err := s.messages.UpdateMessageEnrichment(ctx, msg.ID, c.EnrichmentPatch()); err != nil {
		return fmt.Errorf("saving enrichment: %w", err)
	}
	if _, err := s.analyses.CreateAnalysis(ctx, c.AnalysisParams(msg.ID)); err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return nil
}
