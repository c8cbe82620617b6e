package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/postfeed/internal/assets"
	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/database"
	"github.com/hitoshi/postfeed/internal/middleware"
	"github.com/hitoshi/postfeed/internal/model"
	"github.com/hitoshi/postfeed/internal/post"
	"github.com/hitoshi/postfeed/internal/repository"
	"github.com/hitoshi/postfeed/internal/user"
	"golang.org/x/crypto/bcrypt"
)

// pngBytes はhttp.DetectContentTypeがimage/pngと判定する最小限のデータ。
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// syncDeleter は削除予約を即座にストアへ反映する。
type syncDeleter struct {
	store assets.Store
}

func (d *syncDeleter) Enqueue(key string) bool {
	return d.store.Delete(context.Background(), key) == nil
}

type testServer struct {
	handler http.Handler
	store   *assets.MemoryStore
	db      *sql.DB
}

// newTestServer はインメモリSQLiteとインメモリアセットストアで全ルートを構成する。
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, dialect, err := database.Open("sqlite3://:memory:")
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.RunMigrations(db, dialect); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	userRepo := repository.NewSQLUserRepo(db)
	postRepo := repository.NewSQLPostRepo(db)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	store := assets.NewMemoryStore()
	bridge := assets.NewBridge(store, postRepo, &syncDeleter{store: store}, nil, newDiscardLogger())

	h := NewRouter(&RouterDeps{
		Verifier:          tokens,
		CORSAllowedOrigin: "*",
		Logger:            newDiscardLogger(),
		AuthService:       auth.NewService(userRepo, tokens, auth.NewPasswordHasher(bcrypt.MinCost)),
		PostService:       post.NewService(postRepo, bridge),
		UserService:       user.NewService(userRepo),
		AssetStorer:       bridge,
		AssetServer:       assets.ServeHandler(store, newDiscardLogger()),
		UploadMaxSize:     1 << 20,
		HealthChecker:     db,
	})

	return &testServer{handler: h, store: store, db: db}
}

// call はBearerトークン付きで操作を実行する。tokenが空の場合は匿名。
func (s *testServer) call(t *testing.T, token, name string, vars any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/operations", operationRequestBody(t, name, vars))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// signupAndLogin はユーザーを登録してトークンとユーザーIDを返す。
func (s *testServer) signupAndLogin(t *testing.T, email, password, name string) loginResponse {
	t.Helper()
	w := s.call(t, "", OpSignup, map[string]any{
		"input": map[string]string{"email": email, "password": password, "name": name},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("signup status = %d (body %s)", w.Code, w.Body.String())
	}

	w = s.call(t, "", OpLogin, map[string]string{"email": email, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d (body %s)", w.Code, w.Body.String())
	}
	var login loginResponse
	parseData(t, w, &login)
	return login
}

func (s *testServer) createPost(t *testing.T, token, title, content, image string) postResponse {
	t.Helper()
	in := map[string]any{"title": title, "content": content}
	if image != "" {
		in["imageUrl"] = image
	}
	w := s.call(t, token, OpCreatePost, map[string]any{"input": in})
	if w.Code != http.StatusOK {
		t.Fatalf("createPost status = %d (body %s)", w.Code, w.Body.String())
	}
	var p postResponse
	parseData(t, w, &p)
	return p
}

func (s *testServer) upload(t *testing.T, token, previousPath string) *httptest.ResponseRecorder {
	t.Helper()
	fields := map[string]string{}
	if previousPath != "" {
		fields["previousPath"] = previousPath
	}
	body, ct := multipartBody(t, fields, "cat photo.png", "image/png", pngBytes)
	req := httptest.NewRequest(http.MethodPut, "/post-image", body)
	req.Header.Set("Content-Type", ct)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestRouter_PostLifecycle(t *testing.T) {
	s := newTestServer(t)
	ann := s.signupAndLogin(t, "a@b.com", "secret1", "Ann")

	created := s.createPost(t, ann.Token, "Hello World", "My first post", "images/x.png")
	if created.Creator.ID != ann.UserID || created.Creator.Name != "Ann" {
		t.Errorf("creator = %+v, want {%s Ann}", created.Creator, ann.UserID)
	}
	if created.ImageURL == nil || *created.ImageURL != "images/x.png" {
		t.Errorf("imageUrl = %v", created.ImageURL)
	}

	w := s.call(t, ann.Token, OpGetUser, nil)
	var me userResponse
	parseData(t, w, &me)
	if len(me.Posts) != 1 || me.Posts[0] != created.ID {
		t.Errorf("user.posts = %v, want [%s]", me.Posts, created.ID)
	}

	w = s.call(t, ann.Token, OpDeletePost, map[string]string{"id": created.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("deletePost status = %d (body %s)", w.Code, w.Body.String())
	}
	var deleted bool
	parseData(t, w, &deleted)
	if !deleted {
		t.Error("deletePost = false, want true")
	}

	w = s.call(t, ann.Token, OpGetPost, map[string]string{"id": created.ID})
	if w.Code != http.StatusNotFound {
		t.Fatalf("getPost after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if errs := parseErrors(t, w); errs[0].Code != model.ErrCodeNotFound {
		t.Errorf("code = %q, want %q", errs[0].Code, model.ErrCodeNotFound)
	}
}

func TestRouter_OwnershipIsEnforced(t *testing.T) {
	s := newTestServer(t)
	ann := s.signupAndLogin(t, "ann@example.com", "secret1", "Ann")
	bob := s.signupAndLogin(t, "bob@example.com", "secret2", "Bob")

	p := s.createPost(t, ann.Token, "Ann's post", "Only Ann may edit", "")

	w := s.call(t, bob.Token, OpUpdatePost, map[string]any{
		"id":    p.ID,
		"input": map[string]string{"title": "Hijacked", "content": "Bob was here"},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("updatePost by non-owner status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if errs := parseErrors(t, w); errs[0].Code != model.ErrCodeNotFoundOrForbidden {
		t.Errorf("code = %q", errs[0].Code)
	}

	w = s.call(t, bob.Token, OpDeletePost, map[string]string{"id": p.ID})
	if w.Code != http.StatusNotFound {
		t.Fatalf("deletePost by non-owner status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// 存在しない投稿も同じ応答になる
	w = s.call(t, bob.Token, OpDeletePost, map[string]string{"id": "00000000-0000-0000-0000-000000000000"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("deletePost of missing post status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = s.call(t, ann.Token, OpGetPost, map[string]string{"id": p.ID})
	var got postResponse
	parseData(t, w, &got)
	if got.Title != "Ann's post" {
		t.Errorf("title = %q, post must be unchanged", got.Title)
	}
}

func TestRouter_FeedPagination(t *testing.T) {
	s := newTestServer(t)
	ann := s.signupAndLogin(t, "ann@example.com", "secret1", "Ann")

	for _, title := range []string{"First post", "Second post", "Third post"} {
		s.createPost(t, ann.Token, title, "Some content", "")
	}

	seen := map[string]bool{}
	for page, wantLen := range map[int]int{1: 2, 2: 1, 3: 0} {
		w := s.call(t, ann.Token, OpGetPosts, map[string]int{"page": page})
		if w.Code != http.StatusOK {
			t.Fatalf("getPosts(%d) status = %d", page, w.Code)
		}
		var got postPageResponse
		parseData(t, w, &got)
		if got.Count != 3 {
			t.Errorf("page %d: count = %d, want 3", page, got.Count)
		}
		if len(got.Posts) != wantLen {
			t.Errorf("page %d: len(posts) = %d, want %d", page, len(got.Posts), wantLen)
		}
		for _, p := range got.Posts {
			if seen[p.ID] {
				t.Errorf("post %s appears on more than one page", p.ID)
			}
			seen[p.ID] = true
		}
	}
	if len(seen) != 3 {
		t.Errorf("saw %d distinct posts, want 3", len(seen))
	}
}

func TestRouter_FeedHugePageIsEmpty(t *testing.T) {
	s := newTestServer(t)
	ann := s.signupAndLogin(t, "ann@example.com", "secret1", "Ann")
	s.createPost(t, ann.Token, "Hello World", "Some content", "")

	w := s.call(t, ann.Token, OpGetPosts, map[string]int64{"page": math.MaxInt64})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	var got postPageResponse
	parseData(t, w, &got)
	if got.Count != 1 {
		t.Errorf("count = %d, want 1", got.Count)
	}
	if got.Posts == nil || len(got.Posts) != 0 {
		t.Errorf("posts = %+v, want empty list", got.Posts)
	}
}

func TestRouter_AnonymousAndForgedTokens(t *testing.T) {
	s := newTestServer(t)
	forged, err := auth.NewTokenManager("other-secret", time.Hour).Issue("u-1", "a@b.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for name, token := range map[string]string{"anonymous": "", "forged": forged, "garbage": "not-a-jwt"} {
		t.Run(name, func(t *testing.T) {
			w := s.call(t, token, OpGetPosts, nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if errs := parseErrors(t, w); errs[0].Code != model.ErrCodeUnauthenticated {
				t.Errorf("code = %q", errs[0].Code)
			}
		})
	}
}

func TestRouter_UploadThenCommitThenReplace(t *testing.T) {
	s := newTestServer(t)
	ann := s.signupAndLogin(t, "ann@example.com", "secret1", "Ann")

	w := s.upload(t, ann.Token, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d (body %s)", w.Code, w.Body.String())
	}
	var first uploadResponse
	json.NewDecoder(w.Body).Decode(&first)
	if !s.store.Has(first.Path) {
		t.Fatalf("stored asset %q missing", first.Path)
	}

	p := s.createPost(t, ann.Token, "With picture", "A post with an image", first.Path)

	// 画像はGET /images/... で取得できる
	req := httptest.NewRequest(http.MethodGet, "/"+first.Path, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET image status = %d", rec.Code)
	}
	if body, _ := io.ReadAll(rec.Body); !bytes.Equal(body, pngBytes) {
		t.Error("served image differs from uploaded bytes")
	}

	// 差し替え: 新しい画像を保存し、投稿を更新すると古い画像は削除される
	w = s.upload(t, ann.Token, "")
	var second uploadResponse
	json.NewDecoder(w.Body).Decode(&second)
	if second.Path == first.Path {
		t.Fatalf("upload paths must be unique, got %q twice", second.Path)
	}

	w = s.call(t, ann.Token, OpUpdatePost, map[string]any{
		"id":    p.ID,
		"input": map[string]string{"title": "With picture", "content": "A post with an image", "imageUrl": second.Path},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("updatePost status = %d (body %s)", w.Code, w.Body.String())
	}
	if s.store.Has(first.Path) {
		t.Errorf("replaced asset %q should have been deleted", first.Path)
	}
	if !s.store.Has(second.Path) {
		t.Errorf("current asset %q should remain", second.Path)
	}

	// 削除すると画像も削除される
	s.call(t, ann.Token, OpDeletePost, map[string]string{"id": p.ID})
	if s.store.Has(second.Path) {
		t.Errorf("asset of deleted post %q should have been deleted", second.Path)
	}
}

func TestRouter_UploadCannotDeleteOthersFreshUpload(t *testing.T) {
	s := newTestServer(t)
	ann := s.signupAndLogin(t, "ann@example.com", "secret1", "Ann")
	bob := s.signupAndLogin(t, "bob@example.com", "secret2", "Bob")

	w := s.upload(t, bob.Token, "")
	var bobs uploadResponse
	json.NewDecoder(w.Body).Decode(&bobs)

	// BobがまだcreatePostしていない画像をAnnがpreviousPathに指定する
	w = s.upload(t, ann.Token, bobs.Path)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d (body %s)", w.Code, w.Body.String())
	}
	if !s.store.Has(bobs.Path) {
		t.Fatalf("uncommitted asset %q of another user was deleted", bobs.Path)
	}

	s.createPost(t, bob.Token, "Bob's picture", "Committed afterwards", bobs.Path)
	if !s.store.Has(bobs.Path) {
		t.Errorf("asset %q should remain after commit", bobs.Path)
	}
}

func TestRouter_UploadRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, "", "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_HealthUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.db.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_PreflightIsAnswered(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/operations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRouter_RateLimitAppliesToOperations(t *testing.T) {
	s := newTestServer(t)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     0.001,
		GeneralBurst:    1,
		UploadRate:      0.001,
		UploadBurst:     1,
		CleanupInterval: time.Minute,
	}, nil)
	t.Cleanup(rl.Stop)

	h := NewRouter(&RouterDeps{
		Verifier:      auth.NewTokenManager("test-secret", time.Hour),
		RateLimiter:   rl,
		Logger:        newDiscardLogger(),
		AuthService:   &mockAuthService{},
		PostService:   &mockPostService{},
		UserService:   &mockUserService{},
		AssetStorer:   &mockAssetStorer{},
		UploadMaxSize: 1 << 20,
		HealthChecker: s.db,
	})

	send := func(path string) int {
		var req *http.Request
		if path == "/health" {
			req = httptest.NewRequest(http.MethodGet, path, nil)
		} else {
			req = httptest.NewRequest(http.MethodPost, path, operationRequestBody(t, OpGetPosts, nil))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("/api/operations"); code == http.StatusTooManyRequests {
		t.Fatal("first request should not be rate limited")
	}
	if code := send("/api/operations"); code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", code, http.StatusTooManyRequests)
	}
	if code := send("/health"); code != http.StatusOK {
		t.Errorf("/health status = %d, want %d (not rate limited)", code, http.StatusOK)
	}
}
