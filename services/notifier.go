package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rpupo63/blog-backend/jobs"
	"github.com/rpupo63/blog-backend/mailer"
	"github.com/rpupo63/blog-backend/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendMailMaxAttempts bounds delivery attempts of one notification mail.
const SendMailMaxAttempts = 3

type EventKind string

const (
	PostCreated EventKind = "created"
	PostUpdated EventKind = "updated"
	PostDeleted EventKind = "deleted"
)

// PostEvent is raised after a lifecycle operation was persisted. Recipient is
// the owner email captured from the originating request.
type PostEvent struct {
	Kind      EventKind
	Recipient string
	Post      *models.Post
}

type Notifier interface {
	Notify(ctx context.Context, event PostEvent)
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts jobs.Options) (*jobs.Job, error)
}

type mailContent struct {
	subject  string
	text     string
	template string
}

var mailContents = map[EventKind]mailContent{
	PostCreated: {subject: "Create a post", text: "You have created a post!", template: "create-post"},
	PostUpdated: {subject: "Update a post", text: "You have updated a post!", template: "update-post"},
	PostDeleted: {subject: "Delete a post", text: "You have deleted a post!", template: "delete-post"},
}

// PostView is the post as seen by mail templates.
type PostView struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	FileName    *string   `json:"fileName,omitempty"`
	Tags        []TagView `json:"tags"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type TagView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func NewPostView(post *models.Post) PostView {
	tags := make([]TagView, 0, len(post.Tags))
	for _, tag := range post.Tags {
		tags = append(tags, TagView{ID: tag.ID, Name: tag.Name})
	}
	return PostView{
		ID:          post.ID,
		Title:       post.Title,
		Description: post.Description,
		FileName:    post.FileName,
		Tags:        tags,
		CreatedAt:   post.CreatedAt,
		UpdatedAt:   post.UpdatedAt,
	}
}

// MailNotifier turns post events into send-mail jobs. Enqueue failures are
// logged and never reach the caller.
type MailNotifier struct {
	queue  JobEnqueuer
	logger zerolog.Logger
}

func NewMailNotifier(queue JobEnqueuer) *MailNotifier {
	return &MailNotifier{
		queue:  queue,
		logger: log.With().Str("component", "mailNotifier").Logger(),
	}
}

func (n *MailNotifier) Notify(ctx context.Context, event PostEvent) {
	content, ok := mailContents[event.Kind]
	if !ok {
		n.logger.Error().Str("kind", string(event.Kind)).Msg("Unknown post event kind")
		return
	}

	msg := mailer.Message{
		To:       event.Recipient,
		Subject:  content.subject,
		Text:     content.text,
		Template: content.template,
		Context:  map[string]any{"post": NewPostView(event.Post)},
	}

	// a client disconnect after the post was persisted must not drop the mail
	ctx = context.WithoutCancel(ctx)
	job, err := n.queue.Enqueue(ctx, mailer.SendMailJob, msg, jobs.Options{
		MaxAttempts:      SendMailMaxAttempts,
		RemoveOnComplete: true,
	})
	if err != nil {
		n.logger.Error().Err(err).
			Str("kind", string(event.Kind)).
			Str("postID", event.Post.ID.String()).
			Msg("Failed to enqueue notification mail")
		return
	}

	n.logger.Debug().Str("jobID", job.ID).Str("template", content.template).Msg("Notification mail enqueued")
}
