package post

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/model"
	"github.com/hitoshi/postfeed/internal/repository"
)

// --- モック定義 ---

type mockPostRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.Post, error)
	listFn        func(ctx context.Context, offset, limit int) ([]*model.Post, error)
	countFn       func(ctx context.Context) (int, error)
	createOwnedFn func(ctx context.Context, post *model.Post) error
	updateOwnedFn func(ctx context.Context, id, callerID string, patch model.PostPatch) (*model.Post, error)
	deleteOwnedFn func(ctx context.Context, id, callerID string) (*model.Post, error)
	countRefsFn   func(ctx context.Context, imagePath, excludeOwnerID string) (int, error)
}

func (m *mockPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPostRepo) List(ctx context.Context, offset, limit int) ([]*model.Post, error) {
	if m.listFn != nil {
		return m.listFn(ctx, offset, limit)
	}
	return []*model.Post{}, nil
}

func (m *mockPostRepo) Count(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

func (m *mockPostRepo) CreateOwned(ctx context.Context, post *model.Post) error {
	if m.createOwnedFn != nil {
		return m.createOwnedFn(ctx, post)
	}
	return nil
}

func (m *mockPostRepo) UpdateOwned(ctx context.Context, id, callerID string, patch model.PostPatch) (*model.Post, error) {
	if m.updateOwnedFn != nil {
		return m.updateOwnedFn(ctx, id, callerID, patch)
	}
	return nil, repository.ErrNotFoundOrForbidden
}

func (m *mockPostRepo) DeleteOwned(ctx context.Context, id, callerID string) (*model.Post, error) {
	if m.deleteOwnedFn != nil {
		return m.deleteOwnedFn(ctx, id, callerID)
	}
	return nil, repository.ErrNotFoundOrForbidden
}

func (m *mockPostRepo) CountImageReferences(ctx context.Context, imagePath, excludeOwnerID string) (int, error) {
	if m.countRefsFn != nil {
		return m.countRefsFn(ctx, imagePath, excludeOwnerID)
	}
	return 0, nil
}

type releaseCall struct {
	path           string
	excludeOwnerID string
}

type recordingReleaser struct {
	calls []releaseCall
}

func (r *recordingReleaser) Release(_ context.Context, path, excludeOwnerID string) {
	r.calls = append(r.calls, releaseCall{path: path, excludeOwnerID: excludeOwnerID})
}

const (
	ownerID = "11111111-1111-4111-8111-111111111111"
	otherID = "22222222-2222-4222-8222-222222222222"
	postID  = "33333333-3333-4333-8333-333333333333"
)

var (
	owner = auth.Authenticated{UserID: ownerID, Email: "a@b.com"}
	other = auth.Authenticated{UserID: otherID, Email: "c@d.com"}
)

func validInput() Input {
	return Input{Title: "Hello World", Content: "My first post", Image: model.SetImage("images/x.png")}
}

func assertAPIErrorCode(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Fatalf("Code = %q, want %q", apiErr.Code, code)
	}
	return apiErr
}

// --- 認証 ---

func TestService_RequiresAuthentication(t *testing.T) {
	repo := &mockPostRepo{
		countFn: func(context.Context) (int, error) {
			t.Fatal("repository must not be called for anonymous caller")
			return 0, nil
		},
	}
	svc := NewService(repo, &recordingReleaser{})
	ctx := context.Background()
	anon := auth.Anonymous{}

	_, err := svc.GetPosts(ctx, anon, 1)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.GetPost(ctx, anon, postID)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.CreatePost(ctx, anon, validInput())
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.UpdatePost(ctx, anon, postID, validInput())
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
	_, err = svc.DeletePost(ctx, anon, postID)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthenticated)
}

// --- GetPosts ---

func TestService_GetPosts_Pagination(t *testing.T) {
	tests := []struct {
		page       int
		wantOffset int
	}{
		{0, 0},
		{1, 0},
		{2, 2},
		{4, 6},
	}

	for _, tt := range tests {
		var gotOffset, gotLimit int
		repo := &mockPostRepo{
			countFn: func(context.Context) (int, error) { return 10, nil },
			listFn: func(_ context.Context, offset, limit int) ([]*model.Post, error) {
				gotOffset, gotLimit = offset, limit
				return []*model.Post{}, nil
			},
		}
		svc := NewService(repo, &recordingReleaser{})

		page, err := svc.GetPosts(context.Background(), owner, tt.page)
		if err != nil {
			t.Fatalf("GetPosts(%d): %v", tt.page, err)
		}
		if gotOffset != tt.wantOffset || gotLimit != model.PostsPerPage {
			t.Errorf("page %d: offset/limit = %d/%d, want %d/%d", tt.page, gotOffset, gotLimit, tt.wantOffset, model.PostsPerPage)
		}
		if page.Count != 10 || page.PerPage != 2 {
			t.Errorf("page %d: count/perPage = %d/%d, want 10/2", tt.page, page.Count, page.PerPage)
		}
	}
}

func TestService_GetPosts_PageBeyondLastIsEmpty(t *testing.T) {
	for _, p := range []int{2, 100, math.MaxInt} {
		listed := false
		repo := &mockPostRepo{
			countFn: func(context.Context) (int, error) { return 1, nil },
			listFn: func(context.Context, int, int) ([]*model.Post, error) {
				listed = true
				return []*model.Post{{ID: postID, Title: "Hello World"}}, nil
			},
		}
		svc := NewService(repo, &recordingReleaser{})

		page, err := svc.GetPosts(context.Background(), owner, p)
		if err != nil {
			t.Fatalf("GetPosts(%d): %v", p, err)
		}
		if listed {
			t.Errorf("page %d: List must not be called past the last page", p)
		}
		if page.Count != 1 || page.Posts == nil || len(page.Posts) != 0 {
			t.Errorf("page %d: count = %d, posts = %v, want 1 and empty", p, page.Count, page.Posts)
		}
	}
}

func TestService_GetPosts_RepositoryError(t *testing.T) {
	repo := &mockPostRepo{countFn: func(context.Context) (int, error) { return 0, errors.New("db down") }}
	svc := NewService(repo, &recordingReleaser{})

	_, err := svc.GetPosts(context.Background(), owner, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("repository failures must stay unstructured, got %v", apiErr)
	}
}

// --- GetPost ---

func TestService_GetPost(t *testing.T) {
	stored := &model.Post{ID: postID, Title: "Hello World", Creator: model.Creator{ID: otherID, Name: "Bob"}}
	repo := &mockPostRepo{findByIDFn: func(_ context.Context, id string) (*model.Post, error) {
		if id == postID {
			return stored, nil
		}
		return nil, nil
	}}
	svc := NewService(repo, &recordingReleaser{})

	got, err := svc.GetPost(context.Background(), owner, postID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if got != stored {
		t.Error("reads are not restricted to the owner")
	}

	_, err = svc.GetPost(context.Background(), owner, "44444444-4444-4444-8444-444444444444")
	assertAPIErrorCode(t, err, model.ErrCodeNotFound)

	_, err = svc.GetPost(context.Background(), owner, "not-a-uuid")
	assertAPIErrorCode(t, err, model.ErrCodeNotFound)
}

// --- CreatePost ---

func TestService_CreatePost(t *testing.T) {
	var created *model.Post
	repo := &mockPostRepo{createOwnedFn: func(_ context.Context, p *model.Post) error {
		created = p
		p.ID = postID
		p.Creator.Name = "Ann"
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
		return nil
	}}
	svc := NewService(repo, &recordingReleaser{})

	got, err := svc.CreatePost(context.Background(), owner, validInput())
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if created.Creator.ID != ownerID {
		t.Errorf("creator = %q, want caller", created.Creator.ID)
	}
	if got.Title != "Hello World" || got.Content != "My first post" || got.ImageURL != "images/x.png" {
		t.Errorf("post = %+v", got)
	}
	if got.Creator.Name != "Ann" {
		t.Errorf("creator name = %q, want Ann", got.Creator.Name)
	}
}

func TestService_CreatePost_WithoutImage(t *testing.T) {
	var created *model.Post
	repo := &mockPostRepo{createOwnedFn: func(_ context.Context, p *model.Post) error {
		created = p
		return nil
	}}
	svc := NewService(repo, &recordingReleaser{})

	in := validInput()
	in.Image = model.KeepImage()
	if _, err := svc.CreatePost(context.Background(), owner, in); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if created.ImageURL != "" {
		t.Errorf("ImageURL = %q, want empty", created.ImageURL)
	}
}

func TestService_CreatePost_ValidationFailsWithoutTouchingRepository(t *testing.T) {
	tests := []struct {
		name       string
		title      string
		content    string
		wantFields []string
	}{
		{"short title", "Hey", "My first post", []string{"title"}},
		{"long content", "Hello World", strings.Repeat("c", 256), []string{"content"}},
		{"both", "", "abcd", []string{"title", "content"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockPostRepo{createOwnedFn: func(context.Context, *model.Post) error {
				t.Fatal("repository must not be called on validation failure")
				return nil
			}}
			svc := NewService(repo, &recordingReleaser{})

			_, err := svc.CreatePost(context.Background(), owner, Input{Title: tt.title, Content: tt.content})
			apiErr := assertAPIErrorCode(t, err, model.ErrCodeValidationFailed)

			var fields []string
			for _, v := range apiErr.Violations {
				fields = append(fields, v.Field)
			}
			if strings.Join(fields, ",") != strings.Join(tt.wantFields, ",") {
				t.Errorf("fields = %v, want %v", fields, tt.wantFields)
			}
		})
	}
}

func TestService_CreatePost_CreatorMissing(t *testing.T) {
	repo := &mockPostRepo{createOwnedFn: func(context.Context, *model.Post) error {
		return repository.ErrCreatorNotFound
	}}
	svc := NewService(repo, &recordingReleaser{})

	_, err := svc.CreatePost(context.Background(), owner, validInput())
	assertAPIErrorCode(t, err, model.ErrCodeNotFound)
}

// --- UpdatePost ---

func TestService_UpdatePost_KeepsImageWhenUnset(t *testing.T) {
	var gotPatch model.PostPatch
	releaser := &recordingReleaser{}
	repo := &mockPostRepo{
		findByIDFn: func(context.Context, string) (*model.Post, error) {
			t.Error("current post should not be loaded when the image is unchanged")
			return nil, nil
		},
		updateOwnedFn: func(_ context.Context, id, callerID string, patch model.PostPatch) (*model.Post, error) {
			gotPatch = patch
			return &model.Post{ID: id, Title: patch.Title, Content: patch.Content, ImageURL: "images/1_old.png"}, nil
		},
	}
	svc := NewService(repo, releaser)

	in := Input{Title: "Updated title", Content: "Updated content", Image: model.KeepImage()}
	got, err := svc.UpdatePost(context.Background(), owner, postID, in)
	if err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}
	if gotPatch.Image.Action != model.ImageUnset {
		t.Errorf("patch image action = %v, want unset", gotPatch.Image.Action)
	}
	if got.ImageURL != "images/1_old.png" {
		t.Errorf("ImageURL = %q, want unchanged", got.ImageURL)
	}
	if len(releaser.calls) != 0 {
		t.Errorf("release calls = %v, want none", releaser.calls)
	}
}

func TestService_UpdatePost_ReplacingImageReleasesPrevious(t *testing.T) {
	releaser := &recordingReleaser{}
	repo := &mockPostRepo{
		findByIDFn: func(context.Context, string) (*model.Post, error) {
			return &model.Post{ID: postID, ImageURL: "images/1_old.png", Creator: model.Creator{ID: ownerID}}, nil
		},
		updateOwnedFn: func(_ context.Context, id, _ string, patch model.PostPatch) (*model.Post, error) {
			return &model.Post{ID: id, ImageURL: patch.Image.Apply("images/1_old.png")}, nil
		},
	}
	svc := NewService(repo, releaser)

	in := Input{Title: "Updated title", Content: "Updated content", Image: model.SetImage("images/2_new.png")}
	if _, err := svc.UpdatePost(context.Background(), owner, postID, in); err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}
	if len(releaser.calls) != 1 || releaser.calls[0].path != "images/1_old.png" {
		t.Errorf("release calls = %v, want images/1_old.png", releaser.calls)
	}
}

func TestService_UpdatePost_NotOwner(t *testing.T) {
	releaser := &recordingReleaser{}
	repo := &mockPostRepo{
		findByIDFn: func(context.Context, string) (*model.Post, error) {
			return &model.Post{ID: postID, ImageURL: "images/1_a.png", Creator: model.Creator{ID: ownerID}}, nil
		},
		updateOwnedFn: func(_ context.Context, _, callerID string, _ model.PostPatch) (*model.Post, error) {
			if callerID != otherID {
				t.Errorf("callerID = %q, want %q", callerID, otherID)
			}
			return nil, repository.ErrNotFoundOrForbidden
		},
	}
	svc := NewService(repo, releaser)

	in := validInput()
	in.Image = model.ClearImage()
	_, err := svc.UpdatePost(context.Background(), other, postID, in)
	assertAPIErrorCode(t, err, model.ErrCodeNotFoundOrForbidden)
	if len(releaser.calls) != 0 {
		t.Errorf("release calls = %v, want none", releaser.calls)
	}
}

func TestService_UpdatePost_InvalidIDAndValidation(t *testing.T) {
	svc := NewService(&mockPostRepo{}, &recordingReleaser{})

	_, err := svc.UpdatePost(context.Background(), owner, "bogus", validInput())
	assertAPIErrorCode(t, err, model.ErrCodeNotFoundOrForbidden)

	_, err = svc.UpdatePost(context.Background(), owner, postID, Input{Title: "x", Content: "My first post"})
	assertAPIErrorCode(t, err, model.ErrCodeValidationFailed)
}

// --- DeletePost ---

func TestService_DeletePost_ReleasesImage(t *testing.T) {
	releaser := &recordingReleaser{}
	repo := &mockPostRepo{deleteOwnedFn: func(_ context.Context, id, callerID string) (*model.Post, error) {
		return &model.Post{ID: id, ImageURL: "images/x.png", Creator: model.Creator{ID: callerID}}, nil
	}}
	svc := NewService(repo, releaser)

	ok, err := svc.DeletePost(context.Background(), owner, postID)
	if err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if !ok {
		t.Error("expected true")
	}
	if len(releaser.calls) != 1 || releaser.calls[0] != (releaseCall{path: "images/x.png"}) {
		t.Errorf("release calls = %v", releaser.calls)
	}
}

func TestService_DeletePost_NoImage(t *testing.T) {
	releaser := &recordingReleaser{}
	repo := &mockPostRepo{deleteOwnedFn: func(_ context.Context, id, _ string) (*model.Post, error) {
		return &model.Post{ID: id}, nil
	}}
	svc := NewService(repo, releaser)

	if _, err := svc.DeletePost(context.Background(), owner, postID); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if len(releaser.calls) != 0 {
		t.Errorf("release calls = %v, want none", releaser.calls)
	}
}

func TestService_DeletePost_NotOwner(t *testing.T) {
	svc := NewService(&mockPostRepo{}, &recordingReleaser{})

	ok, err := svc.DeletePost(context.Background(), other, postID)
	assertAPIErrorCode(t, err, model.ErrCodeNotFoundOrForbidden)
	if ok {
		t.Error("expected false")
	}
}
