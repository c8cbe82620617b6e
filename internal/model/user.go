// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultUserStatus はサインアップ直後のステータス文言。
const DefaultUserStatus = "I am new!"

// User はサービス利用ユーザーを表す。
// PostIDsは作成日時の昇順に並んだ所有投稿IDの一覧。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Status       string
	PostIDs      []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Creator は投稿に埋め込む作成者の公開プロフィール。
type Creator struct {
	ID   string
	Name string
}

// Creator はユーザーの公開プロフィールを返す。
func (u *User) Creator() Creator {
	return Creator{ID: u.ID, Name: u.Name}
}
