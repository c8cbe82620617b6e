package handler

import (
	"time"

	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/model"
)

// timeLayout はレスポンスの日時形式（ミリ秒精度のISO 8601、UTC）。
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// creatorResponse は投稿に埋め込む作成者の公開プロフィール。
type creatorResponse struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// postResponse は投稿のAPIレスポンス。画像なしの場合imageUrlはnull。
type postResponse struct {
	ID        string          `json:"_id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	ImageURL  *string         `json:"imageUrl"`
	Creator   creatorResponse `json:"creator"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

// userResponse はユーザーのAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID        string   `json:"_id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Posts     []string `json:"posts"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

// postPageResponse はgetPostsのレスポンス。
type postPageResponse struct {
	Count   int            `json:"count"`
	PerPage int            `json:"perPage"`
	Posts   []postResponse `json:"posts"`
}

// loginResponse はloginのレスポンス。
type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// operationResponse は操作成功時のレスポンスボディ。
type operationResponse struct {
	Data any `json:"data"`
}

// uploadResponse は画像アップロードのレスポンス。
type uploadResponse struct {
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func toPostResponse(p *model.Post) postResponse {
	resp := postResponse{
		ID:      p.ID,
		Title:   p.Title,
		Content: p.Content,
		Creator: creatorResponse{
			ID:   p.Creator.ID,
			Name: p.Creator.Name,
		},
		CreatedAt: formatTime(p.CreatedAt),
		UpdatedAt: formatTime(p.UpdatedAt),
	}
	if p.ImageURL != "" {
		img := p.ImageURL
		resp.ImageURL = &img
	}
	return resp
}

func toUserResponse(u *model.User) userResponse {
	posts := u.PostIDs
	if posts == nil {
		posts = []string{}
	}
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Status:    u.Status,
		Posts:     posts,
		CreatedAt: formatTime(u.CreatedAt),
		UpdatedAt: formatTime(u.UpdatedAt),
	}
}

func toPostPageResponse(page *model.PostPage) postPageResponse {
	posts := make([]postResponse, 0, len(page.Posts))
	for _, p := range page.Posts {
		posts = append(posts, toPostResponse(p))
	}
	return postPageResponse{
		Count:   page.Count,
		PerPage: page.PerPage,
		Posts:   posts,
	}
}

func toLoginResponse(r *auth.LoginResult) loginResponse {
	return loginResponse{
		Token:  r.Token,
		UserID: r.UserID,
	}
}
