package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/middleware"
	"github.com/hitoshi/postfeed/internal/model"
	"github.com/hitoshi/postfeed/internal/post"
)

// maxOperationBodySize は操作リクエストボディの上限バイト数。
const maxOperationBodySize = 1 << 20

// 操作名。
const (
	OpLogin        = "login"
	OpSignup       = "signup"
	OpGetPosts     = "getPosts"
	OpGetPost      = "getPost"
	OpGetUser      = "getUser"
	OpCreatePost   = "createPost"
	OpUpdatePost   = "updatePost"
	OpDeletePost   = "deletePost"
	OpUpdateStatus = "updateStatus"
)

// unknownOperation は未知の操作名をメトリクスに記録する際のラベル。
const unknownOperation = "unknown"

// AuthServiceInterface はサインアップとログインを提供するサービス。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*model.User, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
}

// PostServiceInterface は投稿操作を提供するサービス。
type PostServiceInterface interface {
	GetPosts(ctx context.Context, id auth.Identity, page int) (*model.PostPage, error)
	GetPost(ctx context.Context, id auth.Identity, postID string) (*model.Post, error)
	CreatePost(ctx context.Context, id auth.Identity, in post.Input) (*model.Post, error)
	UpdatePost(ctx context.Context, id auth.Identity, postID string, in post.Input) (*model.Post, error)
	DeletePost(ctx context.Context, id auth.Identity, postID string) (bool, error)
}

// UserServiceInterface は呼び出し元自身のユーザー操作を提供するサービス。
type UserServiceInterface interface {
	GetUser(ctx context.Context, id auth.Identity) (*model.User, error)
	UpdateStatus(ctx context.Context, id auth.Identity, status string) (*model.User, error)
}

// OperationRecorder は操作ごとの結果と処理時間を記録する。
type OperationRecorder interface {
	RecordOperation(operation, code string, duration time.Duration)
}

// operationRequest は POST /api/operations のリクエストボディ。
type operationRequest struct {
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

// operationFunc は1つの名前付き操作。varsは操作ごとの変数オブジェクト。
type operationFunc func(ctx context.Context, id auth.Identity, vars json.RawMessage) (any, error)

// OperationHandler は名前付き操作を対応するサービスに振り分けるHTTPハンドラー。
type OperationHandler struct {
	auth    AuthServiceInterface
	posts   PostServiceInterface
	users   UserServiceInterface
	metrics OperationRecorder
	ops     map[string]operationFunc
}

// NewOperationHandler はOperationHandlerを生成する。metricsはnilでもよい。
func NewOperationHandler(authService AuthServiceInterface, posts PostServiceInterface, users UserServiceInterface, m OperationRecorder) *OperationHandler {
	h := &OperationHandler{
		auth:    authService,
		posts:   posts,
		users:   users,
		metrics: m,
	}
	h.ops = map[string]operationFunc{
		OpLogin:        h.login,
		OpSignup:       h.signup,
		OpGetPosts:     h.getPosts,
		OpGetPost:      h.getPost,
		OpGetUser:      h.getUser,
		OpCreatePost:   h.createPost,
		OpUpdatePost:   h.updatePost,
		OpDeletePost:   h.deletePost,
		OpUpdateStatus: h.updateStatus,
	}
	return h
}

// ServeHTTP は POST /api/operations を処理する。
// 成功時は200で {"data": ...}、失敗時はエラーのステータスで {"errors": [...]} を返す。
func (h *OperationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := unknownOperation
	code := "OK"
	defer func() {
		if h.metrics != nil {
			h.metrics.RecordOperation(name, code, time.Since(start))
		}
	}()

	var req operationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxOperationBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		code = handleServiceError(w, model.NewBadRequestError("リクエストボディのJSONが不正です"))
		return
	}

	op, ok := h.ops[req.OperationName]
	if !ok {
		code = handleServiceError(w, model.NewBadRequestError(fmt.Sprintf("未知の操作です: %q", req.OperationName)))
		return
	}
	name = req.OperationName

	data, err := op(r.Context(), middleware.IdentityFromContext(r.Context()), normalizeVariables(req.Variables))
	if err != nil {
		code = handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, operationResponse{Data: data})
}

// normalizeVariables は省略またはnullの変数を空オブジェクトとして扱う。
func normalizeVariables(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return trimmed
}

// decodeVariables はvarsをdstに読み込む。形式不正はBAD_REQUESTになる。
func decodeVariables(vars json.RawMessage, dst any) error {
	if err := json.Unmarshal(vars, dst); err != nil {
		return model.NewBadRequestError(fmt.Sprintf("変数が不正です: %v", err))
	}
	return nil
}

type loginVariables struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// signupVariables は "input" を受け付ける。旧クライアントの "userInput" も受け付ける。
type signupVariables struct {
	Input     *signupInput `json:"input"`
	UserInput *signupInput `json:"userInput"`
}

type postInput struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	ImageURL model.ImageChange `json:"imageUrl"`
}

func (p *postInput) toServiceInput() post.Input {
	if p == nil {
		return post.Input{}
	}
	return post.Input{
		Title:   p.Title,
		Content: p.Content,
		Image:   p.ImageURL,
	}
}

// createPostVariables は "input" を受け付ける。旧クライアントの "postInput" も受け付ける。
type createPostVariables struct {
	Input     *postInput `json:"input"`
	PostInput *postInput `json:"postInput"`
}

type updatePostVariables struct {
	ID        string     `json:"id"`
	Input     *postInput `json:"input"`
	PostInput *postInput `json:"postInput"`
}

type postIDVariables struct {
	ID string `json:"id"`
}

type getPostsVariables struct {
	Page *int `json:"page"`
}

type updateStatusVariables struct {
	Status string `json:"status"`
}

func (h *OperationHandler) login(ctx context.Context, _ auth.Identity, vars json.RawMessage) (any, error) {
	var v loginVariables
	if err := decodeVariables(vars, &v); err != nil {
		return nil, err
	}
	result, err := h.auth.Login(ctx, v.Email, v.Password)
	if err != nil {
		return nil, err
	}
	return toLoginResponse(result), nil
}

func (h *OperationHandler) signup(ctx context.Context, _ auth.Identity, vars json.RawMessage) (any, error) {
	var v signupVariables
	if err := decodeVariables(vars, &v); err != nil {
		return nil, err
	}
	in := v.Input
	if in == nil {
		in = v.UserInput
	}
	if in == nil {
		in = &signupInput{}
	}

	user, err := h.auth.Signup(ctx, auth.SignupInput{
		Email:    in.Email,
		Password: in.Password,
		Name:     in.Name,
	})
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

func (h *OperationHandler) getPosts(ctx context.Context, id auth.Identity, vars json.RawMessage) (any, error) {
	var v getPostsVariables
	if err := decodeVariables(vars, &v); err != nil {
		return nil, err
	}
	page := 1
	if v.Page != nil {
		page = *v.Page
	}

	result, err := h.posts.GetPosts(ctx, id, page)
	if err != nil {
		return nil, err
	}
	return toPostPageResponse(result), nil
}

func (h *OperationHandler) getPost(ctx context.Context, id auth.Identity, vars json.RawMessage) (any, error) {
	var v postIDVariables
	if err := decodeVariables(vars, &v); err != nil {
		return nil, err
	}
	p, err := h.posts.GetPost(ctx, id, v.ID)
	if err != nil {
		return nil, err
	}
	return toPostResponse(p), nil
}

func (h *OperationHandler) getUser(ctx context.Context, id auth.Identity, _ json.RawMessage) (any, error) {
	user, err := h.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

func (h *OperationHandler) createPost(ctx context.Context, id auth.Identity, vars json.RawMessage) (any, error) {
	var v createPostVariables
	if err := decodeVariables(vars, &v); err != nil {
		return nil, err
	}
	in := v.Input
	if in == nil {
		in = v.PostInput
	}

	p, err := h.posts.CreatePost(ctx, id, in.toServiceInput())
	if err != nil {
		return nil, err
	}
	return toPostResponse(p), nil
}

func (h *OperationHandler) updatePost(ctx context.Context, id auth.Identity, vars json.RawMessage) (any, error) {
	var v updatePostVariables
	if err := decodeVariables(vars, &v); err != nil {
		return nil, err
	}
	in := v.Input
	if in == nil {
		in = v.PostInput
	}

	p, err := h.posts.UpdatePost(ctx, id, v.ID, in.toServiceInput())
	if err != nil {
		return nil, err
	}
	return toPostResponse(p), nil
}

func (h *OperationHandler) deletePost(ctx context.Context, id auth.Identity, vars json.RawMessage) (any, error) {
	var v postIDVariables
	if err := decodeVariables(vars, &v); err != nil {
		return nil, err
	}
	return h.posts.DeletePost(ctx, id, v.ID)
}

func (h *OperationHandler) updateStatus(ctx context.Context, id auth.Identity, vars json.RawMessage) (any, error) {
	var v updateStatusVariables
	if err := decodeVariables(vars, &v); err != nil {
		return nil, err
	}
	user, err := h.users.UpdateStatus(ctx, id, v.Status)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}
