package posts

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"songshare/internal/authz"
	"songshare/internal/store"
)

var tracer = otel.Tracer("app.posts")

// Store describes the persistence operations required by the post service.
type Store interface {
	ListPostsByRecency(ctx context.Context) ([]store.PostSummary, error)
	PostByID(ctx context.Context, id int64) (store.Post, error)
	SongsForPost(ctx context.Context, postID int64) ([]store.Song, error)
	CreatePostWithSongs(ctx context.Context, displayName string, ownerID int64, songs []store.Song) (int64, error)
	UpdatePostWithSongs(ctx context.Context, id int64, displayName string, songs []store.Song) error
	DeletePost(ctx context.Context, id int64) error
}

// Recorder receives counters for notable service events. Nil is allowed.
type Recorder interface {
	DegradedRead(op string)
	PostWrite(op string)
}

// Draft is a validated post submission: a display name and 0..7 songs.
type Draft struct {
	DisplayName string
	Songs       []store.Song
}

// Detail is a post with its songs and whether the viewer may change it.
type Detail struct {
	Post      store.Post
	Songs     []store.Song
	CanMutate bool
}

// Service exposes the post workflows.
type Service interface {
	List(ctx context.Context) ([]store.PostSummary, error)
	Detail(ctx context.Context, id int64, viewer authz.Viewer) (Detail, error)
	Create(ctx context.Context, viewer authz.Viewer, draft Draft) (int64, error)
	ForEdit(ctx context.Context, id int64, viewer authz.Viewer) (Detail, error)
	Update(ctx context.Context, id int64, viewer authz.Viewer, draft Draft) error
	Delete(ctx context.Context, id int64, viewer authz.Viewer) error
}

// Option customizes the service.
type Option func(*service)

// WithLogger sets the logger used for degraded reads.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *service) { s.recorder = r }
}

type service struct {
	store    Store
	logger   zerolog.Logger
	recorder Recorder
}

// New wires a Service backed by the provided Store.
func New(st Store, opts ...Option) Service {
	s := &service{store: st, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every post, newest first. An unreachable store yields an
// empty list.
func (s *service) List(ctx context.Context) ([]store.PostSummary, error) {
	ctx, span := tracer.Start(ctx, "posts.List")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list, err := s.store.ListPostsByRecency(ctx)
	if errors.Is(err, store.ErrStoreUnavailable) {
		s.degraded("list", err)
		return []store.PostSummary{}, nil
	}
	if err != nil {
		fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("posts.count", len(list)))
	return list, nil
}

// Detail loads one post with its songs. An unreachable store is reported as
// store.ErrPostNotFound.
func (s *service) Detail(ctx context.Context, id int64, viewer authz.Viewer) (Detail, error) {
	ctx, span := tracer.Start(ctx, "posts.Detail", trace.WithAttributes(attribute.Int64("post.id", id)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return Detail{}, err
	}

	post, err := s.store.PostByID(ctx, id)
	if err == nil {
		var songs []store.Song
		songs, err = s.store.SongsForPost(ctx, id)
		if err == nil {
			return Detail{Post: post, Songs: songs, CanMutate: authz.CanMutate(post, viewer)}, nil
		}
	}
	if errors.Is(err, store.ErrStoreUnavailable) {
		s.degraded("detail", err)
		return Detail{}, store.ErrPostNotFound
	}
	if !errors.Is(err, store.ErrPostNotFound) {
		fail(span, err)
	}
	return Detail{}, err
}

// Create stores a new post owned by the viewer.
func (s *service) Create(ctx context.Context, viewer authz.Viewer, draft Draft) (int64, error) {
	ctx, span := tracer.Start(ctx, "posts.Create", trace.WithAttributes(attribute.Int("songs.count", len(draft.Songs))))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := authz.RequireAuthenticated(viewer).Err(); err != nil {
		return 0, err
	}

	id, err := s.store.CreatePostWithSongs(ctx, draft.DisplayName, viewer.UserID, draft.Songs)
	if err != nil {
		fail(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("post.id", id))
	s.wrote("create")
	return id, nil
}

// ForEdit loads a post for its owner's edit form.
func (s *service) ForEdit(ctx context.Context, id int64, viewer authz.Viewer) (Detail, error) {
	ctx, span := tracer.Start(ctx, "posts.ForEdit", trace.WithAttributes(attribute.Int64("post.id", id)))
	defer span.End()

	post, err := s.authorize(ctx, id, viewer)
	if err != nil {
		return Detail{}, err
	}
	songs, err := s.store.SongsForPost(ctx, id)
	if err != nil {
		fail(span, err)
		return Detail{}, err
	}
	return Detail{Post: post, Songs: songs, CanMutate: true}, nil
}

// Update renames the post and replaces its song set.
func (s *service) Update(ctx context.Context, id int64, viewer authz.Viewer, draft Draft) error {
	ctx, span := tracer.Start(ctx, "posts.Update", trace.WithAttributes(
		attribute.Int64("post.id", id),
		attribute.Int("songs.count", len(draft.Songs)),
	))
	defer span.End()

	if _, err := s.authorize(ctx, id, viewer); err != nil {
		return err
	}
	if err := s.store.UpdatePostWithSongs(ctx, id, draft.DisplayName, draft.Songs); err != nil {
		fail(span, err)
		return err
	}
	s.wrote("update")
	return nil
}

// Delete removes the post and, through the cascade, its songs.
func (s *service) Delete(ctx context.Context, id int64, viewer authz.Viewer) error {
	ctx, span := tracer.Start(ctx, "posts.Delete", trace.WithAttributes(attribute.Int64("post.id", id)))
	defer span.End()

	if _, err := s.authorize(ctx, id, viewer); err != nil {
		return err
	}
	if err := s.store.DeletePost(ctx, id); err != nil {
		fail(span, err)
		return err
	}
	s.wrote("delete")
	return nil
}

// authorize loads the post and runs the mutation guard. Existence is checked
// before identity and ownership.
func (s *service) authorize(ctx context.Context, id int64, viewer authz.Viewer) (store.Post, error) {
	if err := ctx.Err(); err != nil {
		return store.Post{}, err
	}

	var target *store.Post
	post, err := s.store.PostByID(ctx, id)
	switch {
	case err == nil:
		target = &post
	case errors.Is(err, store.ErrPostNotFound):
	default:
		return store.Post{}, err
	}

	outcome := authz.CheckMutation(target, viewer)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("authz.outcome", outcome.String()))
	if err := outcome.Err(); err != nil {
		return store.Post{}, err
	}
	return post, nil
}

func (s *service) degraded(op string, err error) {
	s.logger.Warn().Err(err).Str("op", op).Msg("store unavailable, serving degraded read")
	if s.recorder != nil {
		s.recorder.DegradedRead(op)
	}
}

func (s *service) wrote(op string) {
	if s.recorder != nil {
		s.recorder.PostWrite(op)
	}
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
