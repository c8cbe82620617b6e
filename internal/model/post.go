package model

import (
	"math"
	"time"
)

// PostsPerPage はフィード1ページあたりの投稿数。
const PostsPerPage = 2

// Post はユーザーが公開する投稿を表す。
// ImageURLが空文字列の場合は画像なし。
type Post struct {
	ID        string
	Title     string
	Content   string
	ImageURL  string
	Creator   Creator
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostPage はフィードの1ページ分の結果。
// Countはページングと無関係な投稿の総数。
type PostPage struct {
	Count   int
	PerPage int
	Posts   []*Post
}

// NormalizePage は1始まりのページ番号を正規化する。1未満は1として扱う。
func NormalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// maxPage はオフセットがintに収まる最大のページ番号。
const maxPage = math.MaxInt/PostsPerPage + 1

// PageOffset はページ番号に対応するオフセットを返す。
// オフセットが溢れるページ番号は最大値に丸める。
func PageOffset(page int) int {
	return (min(NormalizePage(page), maxPage) - 1) * PostsPerPage
}

// PostPatch は投稿更新時に書き換える内容。
type PostPatch struct {
	Title   string
	Content string
	Image   ImageChange
}
